package middlewares

import (
	"net/http"

	"bitbucket.org/dressforpleasure/stylereview_backend/config"
	"bitbucket.org/dressforpleasure/stylereview_backend/models"
	"bitbucket.org/dressforpleasure/stylereview_backend/utils"
	"github.com/gin-gonic/gin"
)

func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		username, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetUsernameInContext(ctx, username)

		// Decision overrides need the role, so enrich the context from the
		// cached user record. A missing record invalidates the session.
		user, err := models.GetUserByUsername(ctx, username)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		ctx = utils.SetUserIdInContext(ctx, user.ID)
		ctx = utils.SetUserNameInContext(ctx, user.Name)
		ctx = utils.SetIsAdminInContext(ctx, user.Role == models.UserRoleAdmin)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
