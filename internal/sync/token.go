package sync

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/quantello/marketsync/internal/models"
)

// continuation is the decoded form of a resume token: which date was being
// processed and the provider cursor for its next page. The encoded token
// is opaque to callers; they only hand it back.
type continuation struct {
	Date   string `json:"d"`
	Cursor string `json:"c"`
}

// EncodeContinuation packs a date and source cursor into an opaque token.
func EncodeContinuation(date time.Time, cursor string) string {
	raw, _ := json.Marshal(continuation{
		Date:   models.Midnight(date).Format(models.DateLayout),
		Cursor: cursor,
	})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeContinuation unpacks a token previously returned by a run.
func DecodeContinuation(token string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", errors.Wrap(err, "decode continuation token")
	}
	var c continuation
	if err := json.Unmarshal(raw, &c); err != nil {
		return time.Time{}, "", errors.Wrap(err, "unmarshal continuation token")
	}
	date, err := time.Parse(models.DateLayout, c.Date)
	if err != nil {
		return time.Time{}, "", errors.Wrap(err, "parse continuation date")
	}
	return models.Midnight(date), c.Cursor, nil
}
