package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/habitsync/internal/db"
	"golang.org/x/crypto/bcrypt"
)

// sessionUserKey 是会话中保存当前用户 ID 的键
const sessionUserKey = "user_id"

// Login 处理用户登录请求，校验通过后将用户 ID 写入会话
func Login(c *gin.Context) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if strings.Contains(c.GetHeader("Content-Type"), "application/json") {
		if !bindJSON(c, &payload, "请求参数不合法") {
			return
		}
	} else {
		payload.Username = c.PostForm("username")
		payload.Password = c.PostForm("password")
	}

	// 查找用户
	var user db.User
	if err := db.DB.Where("username = ?", payload.Username).First(&user).Error; err != nil {
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	// 验证密码
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(payload.Password)); err != nil {
		respondError(c, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	// 设置会话
	session := sessions.Default(c)
	session.Set(sessionUserKey, user.ID)
	session.Set("username", user.Username)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "会话保存失败")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": user.ID, "username": user.Username})
}

// Logout 处理用户登出
func Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Save()
	c.JSON(http.StatusOK, gin.H{"logged_out": true})
}

// AuthRequired 是一个简单的认证中间件
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		if session.Get(sessionUserKey) == nil {
			respondError(c, http.StatusUnauthorized, "请先登录")
			c.Abort()
			return
		}
		c.Next()
	}
}

// currentUserID 从会话读取当前用户 ID
func currentUserID(c *gin.Context) (uint, error) {
	session := sessions.Default(c)
	raw := session.Get(sessionUserKey)
	if raw == nil {
		return 0, errors.New("not signed in")
	}

	switch id := raw.(type) {
	case uint:
		return id, nil
	case int:
		if id > 0 {
			return uint(id), nil
		}
	case int64:
		if id > 0 {
			return uint(id), nil
		}
	case float64:
		if id > 0 {
			return uint(id), nil
		}
	}
	return 0, errors.New("invalid session user")
}

// sessionIdentity 将会话适配为核心需要的 IdentityProvider
type sessionIdentity struct {
	c *gin.Context
}

func (s sessionIdentity) CurrentUserID() (uint, error) {
	return currentUserID(s.c)
}
