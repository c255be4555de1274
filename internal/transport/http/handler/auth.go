package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"triagechat/internal/app"
	"triagechat/internal/model"
	"triagechat/internal/transport/http/middleware"
	"triagechat/internal/transport/http/response"
)

type AuthHandler struct {
	authService *app.AuthService
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email,max=128"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

func NewAuthHandler(authService *app.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.authService.Register(c.Request.Context(), app.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrUsernameExists):
			response.Error(c, http.StatusBadRequest, response.CodeUsernameExists, err.Error())
		case errors.Is(err, app.ErrEmailExists):
			response.Error(c, http.StatusBadRequest, response.CodeEmailExists, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "register failed")
		}
		return
	}

	response.OK(c, authPayload(result))
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.authService.Login(c.Request.Context(), app.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrInvalidCredential):
			response.Error(c, http.StatusUnauthorized, response.CodeInvalidCredentials, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "login failed")
		}
		return
	}

	response.OK(c, authPayload(result))
}

func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	user, err := h.authService.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch current user failed")
		return
	}
	if user == nil {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "user not found")
		return
	}

	response.OK(c, userPayload(user))
}

func authPayload(result *app.AuthResult) gin.H {
	return gin.H{
		"token": result.Token,
		"user":  userPayload(result.User),
	}
}

func userPayload(user *model.User) gin.H {
	return gin.H{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	}
}
