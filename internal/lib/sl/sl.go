// Package sl содержит вспомогательные функции для работы с логгером slog:
// единообразные атрибуты для ошибок и доменных идентификаторов.
package sl

import (
	"io"
	"log/slog"
)

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
//
// Пример:
//
//	log.Error("failed to do something", sl.Err(err))
func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// Op атрибут с именем операции.
func Op(op string) slog.Attr {
	return slog.String("op", op)
}

// User атрибут с Telegram ID пользователя.
func User(id int64) slog.Attr {
	return slog.Int64("user_id", id)
}

// Panel атрибут с идентификатором панели.
func Panel(id int64) slog.Attr {
	return slog.Int64("panel_id", id)
}

// New создаёт логгер в зависимости от окружения: текст для local, JSON для остальных.
func New(env string, w io.Writer) *slog.Logger {
	switch env {
	case "local", "test":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	default:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
}
