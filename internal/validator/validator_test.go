package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type heartbeatBody struct {
	Reason string `json:"reason" binding:"required,max=8"`
}

func init() {
	gin.SetMode(gin.TestMode)
	Setup()
}

func contextWithBody(body string) *gin.Context {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	return c
}

func TestBind(t *testing.T) {
	var dst heartbeatBody
	assert.Nil(t, Bind(contextWithBody(`{"reason":"tab"}`), &dst))
	assert.Equal(t, "tab", dst.Reason)

	fields := Bind(contextWithBody(`{}`), &heartbeatBody{})
	assert.Contains(t, fields, "reason", "field errors use the json name")

	fields = Bind(contextWithBody(`{"reason":"far too long"}`), &heartbeatBody{})
	assert.Contains(t, fields["reason"], "8")

	fields = Bind(contextWithBody(`{`), &heartbeatBody{})
	assert.Contains(t, fields, "detail")
}

func TestBindOptional(t *testing.T) {
	var dst heartbeatBody
	assert.Nil(t, BindOptional(contextWithBody(""), &dst))
	assert.Empty(t, dst.Reason)

	assert.Contains(t, BindOptional(contextWithBody(`{}`), &dst), "reason")
}
