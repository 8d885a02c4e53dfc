package handlers

import (
	"net/http"

	"mention-engine/apperr"
	"mention-engine/middleware"
	"mention-engine/models"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// AuthHandler issues bearer tokens. It checks no credential: Login
// looks up the User row by email, creates it when absent, and issues a
// token carrying {id, email}.
type AuthHandler struct {
	DB     *gorm.DB
	Issuer *middleware.TokenIssuer
}

func NewAuthHandler(db *gorm.DB, issuer *middleware.TokenIssuer) *AuthHandler {
	return &AuthHandler{DB: db, Issuer: issuer}
}

type loginRequest struct {
	Email string `json:"email" binding:"required"`
}

// Login handles POST /v1/users/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Wrap(apperr.Validation, "email is required", err))
		return
	}

	var user models.User
	err := h.DB.Where("email = ?", body.Email).First(&user).Error
	if err != nil {
		user = models.User{Email: body.Email}
		if err := h.DB.Create(&user).Error; err != nil {
			respondError(c, apperr.Wrap(apperr.Internal, "create user", err))
			return
		}
	}

	token, err := h.Issuer.Issue(models.Actor{ID: user.ID, Email: user.Email})
	if err != nil {
		respondError(c, apperr.Wrap(apperr.Internal, "issue token", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
