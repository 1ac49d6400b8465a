package panel

import (
	"errors"
	"fmt"
	"strings"
)

// Виды ошибок панели. Проверяются через errors.Is.
var (
	ErrAuth      = errors.New("panel: authentication failed")
	ErrNotFound  = errors.New("panel: credential not found")
	ErrTransient = errors.New("panel: transient network failure")
	ErrProtocol  = errors.New("panel: protocol error")
)

// Error ошибка вызова панели с указанием вида, операции и сообщения панели.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		fmt.Fprintf(&b, ": %s", e.Msg)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap позволяет errors.Is находить как вид ошибки, так и причину.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// IsNotFound сообщает, что клиента на панели уже нет.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// classifyMsg разбирает текст ответа success:false.
func classifyMsg(msg string) error {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "not found"),
		strings.Contains(m, "no client"),
		strings.Contains(m, "не найден"):
		return ErrNotFound
	case strings.Contains(m, "login"),
		strings.Contains(m, "unauthorized"),
		strings.Contains(m, "invalid username"):
		return ErrAuth
	default:
		return ErrProtocol
	}
}
