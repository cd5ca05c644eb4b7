// internal/middleware/cybersource.go
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/opencohort/bootcamp-backend/internal/services"
)

// CyberSourceCallbackParams is the context key holding the verified callback
// parameters.
const CyberSourceCallbackParams = "cybersource_params"

// CyberSourceSignatureRequired authenticates a Secure Acceptance callback by
// recomputing its HMAC signature. Unsigned or tampered callbacks never reach
// the handler.
func CyberSourceSignatureRequired(cyberSourceService *services.CyberSourceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Unable to parse callback body",
			})
			c.Abort()
			return
		}

		params := make(map[string]string, len(c.Request.PostForm))
		for key, values := range c.Request.PostForm {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}

		if !cyberSourceService.VerifySignature(params) {
			logrus.WithField("ip", c.ClientIP()).
				Warn("rejected callback with invalid signature")
			c.JSON(http.StatusForbidden, gin.H{
				"error": "Signature mismatch",
			})
			c.Abort()
			return
		}

		c.Set(CyberSourceCallbackParams, params)
		c.Next()
	}
}
