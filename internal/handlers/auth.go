package handlers

import (
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/prasetyow/freelance_market_be/internal/models"
	"github.com/prasetyow/freelance_market_be/internal/services/otp"
	"github.com/prasetyow/freelance_market_be/internal/utils"
)

const authCookie = "fm_token"

type AuthHandler struct {
	DB        *gorm.DB
	OTP       *otp.Store
	JWTSecret string
	Expires   int
}

type RegisterReq struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
	Role     string `json:"role"` // client / freelancer, admin is never self-served
}

// Register creates an inactive account and sends a verification code.
// The account stays locked out of login until VerifyOTP succeeds.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req RegisterReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	name := strings.TrimSpace(req.Name)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	phone := strings.TrimSpace(req.Phone)
	password := strings.TrimSpace(req.Password)
	role := strings.ToLower(strings.TrimSpace(req.Role))

	errs := FieldErrors{}
	if name == "" {
		errs.Add("name", "Name is required")
	}
	if email == "" {
		errs.Add("email", "Email is required")
	} else if !strings.Contains(email, "@") {
		errs.Add("email", "Invalid email format")
	}
	if password == "" {
		errs.Add("password", "Password is required")
	} else if len(password) < 6 {
		errs.Add("password", "Password must be at least 6 characters")
	}
	if phone != "" && len(phone) < 8 {
		errs.Add("phone", "Invalid phone number")
	}
	switch role {
	case "":
		role = string(models.RoleClient)
	case string(models.RoleClient), string(models.RoleFreelancer):
	default:
		errs.Add("role", "Role must be client or freelancer")
	}
	if len(errs) > 0 {
		return validationFail(c, errs)
	}

	var existing models.User
	if err := h.DB.Where("email = ?", email).First(&existing).Error; err == nil {
		e := FieldErrors{}
		e.Add("email", "Email already registered")
		return validationFail(c, e)
	} else if err != gorm.ErrRecordNotFound {
		return serverError(c, "Server error")
	}

	pw, err := utils.HashPassword(password)
	if err != nil {
		return serverError(c, "Failed to process password")
	}

	u := models.User{
		Name:     name,
		Email:    email,
		Phone:    phone,
		Password: pw,
		Role:     models.Role(role),
		IsActive: false,
	}
	if err := h.DB.Create(&u).Error; err != nil {
		return badRequest(c, "Failed to register")
	}

	code, err := h.OTP.Issue(c.Context(), email)
	if err != nil {
		return serverError(c, "Failed to issue verification code")
	}
	// Stand-in for email delivery.
	log.Printf("auth: verification code for %s: %s", email, code)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Registered. Check your email for the verification code.",
		"data": fiber.Map{
			"user": fiber.Map{
				"id":    u.ID,
				"name":  u.Name,
				"email": u.Email,
				"phone": u.Phone,
				"role":  u.Role,
			},
		},
	})
}

type VerifyOTPReq struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerifyOTP activates the account and logs the user in.
func (h *AuthHandler) VerifyOTP(c *fiber.Ctx) error {
	var req VerifyOTPReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	code := strings.TrimSpace(req.Code)
	if email == "" || code == "" {
		return badRequest(c, "Email and code are required")
	}

	var u models.User
	if err := h.DB.Where("email = ?", email).First(&u).Error; err != nil {
		return badRequest(c, "Invalid email or code")
	}

	if err := h.OTP.Verify(c.Context(), email, code); err != nil {
		switch err {
		case otp.ErrExpired:
			return badRequest(c, "Code expired, request a new one")
		case otp.ErrMismatch:
			return badRequest(c, "Invalid email or code")
		default:
			return serverError(c, "Server error")
		}
	}

	if !u.IsActive {
		if err := h.DB.Model(&u).Update("is_active", true).Error; err != nil {
			return serverError(c, "Failed to activate account")
		}
	}

	token, err := utils.SignJWT(h.JWTSecret, u.ID.String(), string(u.Role), h.Expires)
	if err != nil {
		return serverError(c, "Failed to create token")
	}
	h.setAuthCookie(c, token)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Account verified",
		"data": fiber.Map{
			"user": fiber.Map{
				"id":    u.ID,
				"name":  u.Name,
				"email": u.Email,
				"role":  u.Role,
			},
		},
	})
}

type ResendOTPReq struct {
	Email string `json:"email"`
}

func (h *AuthHandler) ResendOTP(c *fiber.Ctx) error {
	var req ResendOTPReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return badRequest(c, "Email is required")
	}

	// Reply the same whether or not the account exists.
	var u models.User
	if err := h.DB.Where("email = ?", email).First(&u).Error; err == nil {
		code, err := h.OTP.Issue(c.Context(), email)
		if err != nil {
			return serverError(c, "Failed to issue verification code")
		}
		log.Printf("auth: verification code for %s: %s", email, code)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "If the account exists, a new code has been sent",
	})
}

type LoginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login also records the caller's IP and bumps the login counter. Those
// fields feed the risk heuristics later.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req LoginReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	password := strings.TrimSpace(req.Password)

	errs := FieldErrors{}
	if email == "" {
		errs.Add("email", "Email is required")
	}
	if password == "" {
		errs.Add("password", "Password is required")
	}
	if len(errs) > 0 {
		return validationFail(c, errs)
	}

	var u models.User
	if err := h.DB.Where("email = ?", email).First(&u).Error; err != nil {
		return unauthorizedLogin(c)
	}
	if !utils.CheckPassword(u.Password, password) {
		return unauthorizedLogin(c)
	}
	if !u.IsActive {
		return forbidden(c, "Account not verified")
	}

	now := time.Now()
	if err := h.DB.Model(&u).Updates(map[string]interface{}{
		"last_login":    now,
		"last_login_ip": c.IP(),
		"login_count":   gorm.Expr("login_count + 1"),
	}).Error; err != nil {
		log.Printf("auth: failed to record login for %s: %v", u.ID, err)
	}

	token, err := utils.SignJWT(h.JWTSecret, u.ID.String(), string(u.Role), h.Expires)
	if err != nil {
		return serverError(c, "Failed to create token")
	}
	h.setAuthCookie(c, token)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Login successful",
		"data": fiber.Map{
			"user": fiber.Map{
				"id":    u.ID,
				"name":  u.Name,
				"email": u.Email,
				"role":  u.Role,
			},
		},
	})
}

func unauthorizedLogin(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"message": "Invalid email or password",
	})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     authCookie,
		Value:    "",
		Path:     "/",
		HTTPOnly: true,
		SameSite: "Lax",
		MaxAge:   -1,
	})
	return c.JSON(fiber.Map{"success": true, "message": "Logged out"})
}

// Me returns the authenticated user's profile with wallet balances.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}

	var u models.User
	if err := h.DB.First(&u, "id = ?", userID).Error; err != nil {
		return notFound(c, "User not found")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    u,
	})
}

func (h *AuthHandler) setAuthCookie(c *fiber.Ctx, token string) {
	c.Cookie(&fiber.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		HTTPOnly: true,
		Secure:   false,
		SameSite: "Lax",
		MaxAge:   h.Expires * 60,
	})
}
