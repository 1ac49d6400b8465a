package sl_test

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/magabrotheeeer/vpn-provisioner/internal/lib/sl"
)

func TestErr_ReturnsCorrectAttr(t *testing.T) {
	err := errors.New("something went wrong")
	attr := sl.Err(err)

	assert.Equal(t, "error", attr.Key)
	assert.Equal(t, slog.StringValue("something went wrong"), attr.Value)
}

func TestErr_NilError(t *testing.T) {
	assert.Panics(t, func() {
		_ = sl.Err(nil)
	})
}

func TestDomainAttrs(t *testing.T) {
	assert.Equal(t, slog.Int64("user_id", 42), sl.User(42))
	assert.Equal(t, slog.Int64("panel_id", 7), sl.Panel(7))
	assert.Equal(t, slog.String("op", "x.Y"), sl.Op("x.Y"))
}

func TestNew_SelectsHandlerByEnv(t *testing.T) {
	var buf bytes.Buffer
	sl.New("prod", &buf).Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()
	sl.New("local", &buf).Debug("dbg")
	assert.Contains(t, buf.String(), "msg=dbg")
}
