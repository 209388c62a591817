// Package idempotency makes mutating requests safe to retry. A request that
// carries an Idempotency-Key header is executed once per user and key; later
// requests with the same key get the stored response back.
package idempotency

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// Header is the request header that carries the client key.
const Header = "Idempotency-Key"

// Record is the stored outcome of a keyed request. A record that is not Done
// marks a request still in flight.
type Record struct {
	Done        bool
	Status      int
	ContentType string
	Body        []byte
	// Fingerprint identifies the request body the response belongs to.
	Fingerprint string
}

// Store claims keys and remembers responses.
type Store interface {
	// Begin claims key for ttl. When the key is already claimed it returns
	// the existing record and started=false.
	Begin(ctx context.Context, key string, ttl time.Duration) (rec Record, started bool, err error)
	// Complete stores the response of a claimed key.
	Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error
	// Abort drops the claim so the request can be retried.
	Abort(ctx context.Context, key string) error
}

func (r Record) encode() []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("done")
	e.Bool(r.Done)
	if r.Done {
		e.FieldStart("status")
		e.Int(r.Status)
		e.FieldStart("content_type")
		e.Str(r.ContentType)
		e.FieldStart("body")
		e.Base64(r.Body)
		e.FieldStart("fingerprint")
		e.Str(r.Fingerprint)
	}
	e.ObjEnd()
	return e.Bytes()
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "done":
			r.Done, err = d.Bool()
		case "status":
			r.Status, err = d.Int()
		case "content_type":
			r.ContentType, err = d.Str()
		case "body":
			r.Body, err = d.Base64()
		case "fingerprint":
			r.Fingerprint, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return Record{}, errors.Wrap(err, "decode idempotency record")
	}
	return r, nil
}
