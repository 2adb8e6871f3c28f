package middlewares

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openshelf/library_backend/config"
	"github.com/openshelf/library_backend/models"
	"github.com/openshelf/library_backend/utils"
)

// SessionMiddleware resolves the caller from the x-user-id header and puts
// the identity (id, name, staff flag) in the request context. Requests
// without the header pass through anonymous; handlers that need an identity
// reject those themselves.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Request.Header.Get("x-user-id")
		if raw == "" {
			c.Next()
			return
		}
		userId, err := strconv.Atoi(raw)
		if err != nil || userId <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		var user models.User
		exists, err := config.GetRedisObject("User:"+raw, &user)
		if err != nil || !exists {
			fetched, err := models.GetUser(c.Request.Context(), userId)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				c.Abort()
				return
			}
			user = *fetched
			_ = config.SetRedisObject("User:"+raw, user, 5*time.Minute)
		}

		ctx := utils.SetUserIdInContext(c.Request.Context(), user.ID)
		ctx = utils.SetUserNameInContext(ctx, user.Name)
		ctx = utils.SetIsStaffInContext(ctx, user.IsStaff)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
