package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/dto"
	"github.com/Mayorlee0/verify-protocol-mvp/internal/services"
)

var classStatus = map[services.ErrorClass]int{
	services.ClassValidation: http.StatusBadRequest,
	services.ClassNotFound:   http.StatusNotFound,
	services.ClassConflict:   http.StatusConflict,
	services.ClassGone:       http.StatusGone,
	services.ClassDependency: http.StatusBadGateway,
	services.ClassIntegrity:  http.StatusInternalServerError,
}

// StatusFor HTTP status of a service error
func StatusFor(err error) int {
	if de, ok := services.AsDomainError(err); ok {
		if status, found := classStatus[de.Class]; found {
			return status
		}
	}
	return http.StatusInternalServerError
}

// writeError renders a service error. Only the reason code and the sentinel
// message reach the client; wrapped causes stay in the log.
func writeError(c *gin.Context, logger *logrus.Logger, err error) {
	status := StatusFor(err)
	de, ok := services.AsDomainError(err)
	if !ok {
		logger.WithFields(logrus.Fields{
			"route": c.FullPath(),
			"error": err.Error(),
		}).Error("Unhandled error")
		c.JSON(status, dto.NewError(dto.ReasonInternal, "internal error"))
		return
	}
	if status >= http.StatusInternalServerError || de.Class == services.ClassDependency {
		logger.WithFields(logrus.Fields{
			"route":  c.FullPath(),
			"reason": de.Code,
			"error":  err.Error(),
		}).Error("Request failed")
	}
	c.JSON(status, dto.NewError(de.Code, de.Message))
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.NewError(dto.ReasonInvalidRequest, message))
}
