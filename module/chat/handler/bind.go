package handler

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/leebenson/conform"

	"MissionChat/tools/errs"
)

type createConversationReq struct {
	Type         string   `json:"type" conform:"trim,lower"`
	Participants []string `json:"participants"`
	Mission      *string  `json:"mission"`
	Title        *string  `json:"title"`
}

type addParticipantReq struct {
	UserID string `json:"userId" conform:"trim" binding:"required"`
}

type attachmentReq struct {
	FileURL  string `json:"fileUrl" conform:"trim"`
	FileType string `json:"fileType" conform:"trim"`
	FileName string `json:"fileName" conform:"trim"`
}

type sendMessageReq struct {
	ConversationID string          `json:"conversationId" conform:"trim"`
	Content        string          `json:"content"`
	Attachments    []attachmentReq `json:"attachments" binding:"omitempty,max=10"`
}

func init() {
	// 校验错误里使用 json 字段名
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
	}
}

// bindJSON 解析 body，先去空格再校验；错误统一转为 ValidationError
func bindJSON(c *gin.Context, req any) error {
	if c.Request.Body == nil {
		return errs.Validation("Request body is required").Wrap()
	}
	if err := json.NewDecoder(c.Request.Body).Decode(req); err != nil {
		return bindError(err)
	}
	if err := conform.Strings(req); err != nil {
		return errs.Validation("Invalid request body").WrapMsg(err.Error())
	}
	if err := binding.Validator.ValidateStruct(req); err != nil {
		return bindError(err)
	}
	return nil
}

func bindError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		msgs := make([]string, 0, len(ve))
		for _, fe := range ve {
			msgs = append(msgs, fieldMessage(fe))
		}
		return errs.Validation(strings.Join(msgs, "; ")).Wrap()
	}
	if errors.Is(err, io.EOF) {
		return errs.Validation("Request body is required").Wrap()
	}
	return errs.Validation("Invalid request body").WrapMsg(err.Error())
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must have at least %s item(s)", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s item(s)", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}
