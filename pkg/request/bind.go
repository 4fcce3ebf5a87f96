// Package request binds and validates JSON request bodies.
package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/itranswarp/backend/pkg/apperr"
)

var once sync.Once

// useJSONNames makes validation errors report the JSON field name.
func useJSONNames() {
	once.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// Normalizer is implemented by requests that clean their fields, e.g. trimming
// whitespace, before validation runs.
type Normalizer interface {
	Normalize()
}

// BindJSON decodes and validates the body into req. Failures are parameter:invalid errors.
// A Normalizer is normalized between decoding and validation.
func BindJSON(c *gin.Context, req interface{}) error {
	useJSONNames()
	n, ok := req.(Normalizer)
	if !ok {
		if err := c.ShouldBindJSON(req); err != nil {
			return bindError(err)
		}
		return nil
	}
	if c.Request == nil || c.Request.Body == nil {
		return apperr.InvalidParam("body", "Invalid JSON body.")
	}
	if err := json.NewDecoder(c.Request.Body).Decode(req); err != nil {
		return bindError(err)
	}
	n.Normalize()
	if err := binding.Validator.ValidateStruct(req); err != nil {
		return bindError(err)
	}
	return nil
}

func bindError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return apperr.InvalidParam(fe.Field(), fmt.Sprintf("Invalid %s: failed on %s.", fe.Field(), fe.Tag()))
	}
	return apperr.InvalidParam("body", "Invalid JSON body.")
}

// UUIDParam parses a path parameter as a UUID.
func UUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.InvalidParam(name, "Invalid "+name+".")
	}
	return id, nil
}

// UUIDQuery parses an optional query parameter. It returns nil when absent.
func UUIDQuery(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.InvalidParam(name, "Invalid "+name+".")
	}
	return &id, nil
}
