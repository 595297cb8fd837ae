package syncstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/burugo/syncstore/internal/linkheader"
)

// UseCase binds one remote resource to a local cache policy.
type UseCase[R any] interface {
	// Scope selects the local entities this use case owns.
	Scope() Scope
	// CacheKey names the TTL record; "" means the data is always stale.
	CacheKey() string
	// TTL is the freshness window. Zero uses the environment default,
	// ExpireImmediately makes the key always stale.
	TTL() time.Duration
	MakeRequest(ctx context.Context, env *Environment) (R, *Response, error)
	// Reset runs before Write in the same transaction. It must only delete
	// entities selected by Scope.
	Reset(ctx context.Context, tx WriteTx) error
	Write(ctx context.Context, tx WriteTx, response R, meta *Response) error
	// GetNext derives the next page request from a response; nil means no more pages.
	GetNext(meta *Response) *Request
}

// BaseUseCase supplies the scope, cache key, TTL, reset and paging defaults.
// Embed it and implement MakeRequest and Write.
type BaseUseCase struct {
	Query  Scope
	Key    string
	MaxAge time.Duration
}

// Scope returns Query, or All("id") when Query is the zero Scope.
func (b BaseUseCase) Scope() Scope {
	if b.Query.Where == "" && len(b.Query.Order) == 0 && b.Query.SectionKey == "" {
		return All("id")
	}
	return b.Query
}

func (b BaseUseCase) CacheKey() string { return b.Key }

func (b BaseUseCase) TTL() time.Duration { return b.MaxAge }

func (b BaseUseCase) Reset(context.Context, WriteTx) error { return nil }

func (b BaseUseCase) GetNext(*Response) *Request { return nil }

// Send issues req through env and decodes the body with decode (JSON when nil).
// A failed request still returns the transport response when there is one.
func Send[R any](ctx context.Context, env *Environment, req Request, decode func([]byte) (R, error)) (R, *Response, error) {
	var zero R
	meta, err := env.Do(ctx, req)
	if err != nil {
		return zero, meta, err
	}
	if decode == nil {
		decode = decodeJSON[R]
	}
	response, err := decode(meta.Body)
	if err != nil {
		return zero, meta, fmt.Errorf("decode response of %s %s: %w", req.Method, req.Path, err)
	}
	return response, meta, nil
}

func decodeJSON[R any](body []byte) (R, error) {
	var out R
	if len(body) == 0 {
		return out, nil
	}
	err := json.Unmarshal(body, &out)
	return out, err
}

// nextFromLink follows the Link header's rel="next" target, keeping the
// headers of the original request.
func nextFromLink(meta *Response, base Request) *Request {
	if meta == nil {
		return nil
	}
	next := linkheader.Next(meta.Header)
	if next == "" {
		return nil
	}
	method := base.Method
	if method == "" {
		method = http.MethodGet
	}
	return &Request{Method: method, Path: next, Header: base.Header.Clone()}
}

// APIUseCase is a request-driven binding that upserts the entities projected
// from each response and pages through Link headers.
type APIUseCase[T Entity, R any] struct {
	BaseUseCase
	Request Request
	// Decode parses a response body. Defaults to JSON.
	Decode func(body []byte) (R, error)
	// Save projects a response onto entities. Defaults to the response itself
	// when R is T or []T.
	Save func(response R) []T
	// Collection deletes the entities matching Scope before every write, so a
	// full refresh leaves no orphans behind.
	Collection bool
}

func (uc *APIUseCase[T, R]) MakeRequest(ctx context.Context, env *Environment) (R, *Response, error) {
	return Send(ctx, env, uc.Request, uc.Decode)
}

// DecodeResponse lets paged continuations reuse Decode.
func (uc *APIUseCase[T, R]) DecodeResponse(body []byte) (R, error) {
	if uc.Decode != nil {
		return uc.Decode(body)
	}
	return decodeJSON[R](body)
}

func (uc *APIUseCase[T, R]) Reset(ctx context.Context, tx WriteTx) error {
	if !uc.Collection {
		return nil
	}
	return CollectionReset[T](ctx, tx, uc.Scope())
}

func (uc *APIUseCase[T, R]) Write(ctx context.Context, tx WriteTx, response R, _ *Response) error {
	var entities []T
	switch {
	case uc.Save != nil:
		entities = uc.Save(response)
	default:
		switch v := any(response).(type) {
		case []T:
			entities = v
		case T:
			entities = []T{v}
		default:
			return fmt.Errorf("%w: no Save projection from %T to %s", ErrInvalidEntity, response, TableOf[T]())
		}
	}
	return UpsertAll(ctx, tx, entities)
}

func (uc *APIUseCase[T, R]) GetNext(meta *Response) *Request {
	return nextFromLink(meta, uc.Request)
}

// UpsertAll upserts every entity inside tx.
func UpsertAll[T Entity](ctx context.Context, tx WriteTx, entities []T) error {
	for _, e := range entities {
		if err := tx.Upsert(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// TableOf returns the table of entity type T without needing a value.
func TableOf[T Entity]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Ptr {
		if e, ok := reflect.New(t.Elem()).Interface().(Entity); ok {
			return e.TableName()
		}
		return ""
	}
	var zero T
	return zero.TableName()
}

// CollectionReset deletes the entities of T's table matching scope, and only those.
func CollectionReset[T Entity](ctx context.Context, tx WriteTx, scope Scope) error {
	return deleteMatching[T](ctx, tx, scope)
}

func deleteMatching[T Entity](ctx context.Context, tx WriteTx, scope Scope) error {
	table := TableOf[T]()
	var existing []T
	if err := tx.Fetch(ctx, table, Scope{Where: scope.Where, Args: scope.Args}, &existing); err != nil {
		return fmt.Errorf("load %s for reset: %w", table, err)
	}
	for _, e := range existing {
		if err := tx.Delete(ctx, table, e.GetID()); err != nil {
			return err
		}
	}
	return nil
}

// DeleteUseCase sends a request (usually a DELETE) and, once it succeeds,
// removes the local entities matching Scope.
type DeleteUseCase[T Entity] struct {
	BaseUseCase
	Request Request
}

func (uc *DeleteUseCase[T]) MakeRequest(ctx context.Context, env *Environment) (*Response, *Response, error) {
	meta, err := env.Do(ctx, uc.Request)
	return meta, meta, err
}

func (uc *DeleteUseCase[T]) Write(ctx context.Context, tx WriteTx, _ *Response, _ *Response) error {
	return deleteMatching[T](ctx, tx, uc.Scope())
}

// LocalUseCase never touches the network; a Store over it just observes
// local data.
type LocalUseCase[T Entity] struct {
	BaseUseCase
}

func (uc *LocalUseCase[T]) MakeRequest(context.Context, *Environment) (struct{}, *Response, error) {
	return struct{}{}, nil, nil
}

func (uc *LocalUseCase[T]) Write(context.Context, WriteTx, struct{}, *Response) error { return nil }

// DeleteLocalUseCase removes the local entities matching Scope without a request.
type DeleteLocalUseCase[T Entity] struct {
	BaseUseCase
}

func (uc *DeleteLocalUseCase[T]) MakeRequest(context.Context, *Environment) (struct{}, *Response, error) {
	return struct{}{}, nil, nil
}

func (uc *DeleteLocalUseCase[T]) Write(ctx context.Context, tx WriteTx, _ struct{}, _ *Response) error {
	return deleteMatching[T](ctx, tx, uc.Scope())
}

// NextUseCase fetches one continuation page of Parent. It shares Parent's
// scope, cache key, write policy and paging, never resets, and is always stale.
type NextUseCase[R any] struct {
	Parent  UseCase[R]
	Request Request
}

// NewNextUseCase wraps parent with the cursor request.
func NewNextUseCase[R any](parent UseCase[R], cursor Request) *NextUseCase[R] {
	return &NextUseCase[R]{Parent: parent, Request: cursor}
}

func (uc *NextUseCase[R]) Scope() Scope { return uc.Parent.Scope() }

func (uc *NextUseCase[R]) CacheKey() string { return uc.Parent.CacheKey() }

func (uc *NextUseCase[R]) TTL() time.Duration { return ExpireImmediately }

func (uc *NextUseCase[R]) MakeRequest(ctx context.Context, env *Environment) (R, *Response, error) {
	var decode func([]byte) (R, error)
	if d, ok := uc.Parent.(interface{ DecodeResponse([]byte) (R, error) }); ok {
		decode = d.DecodeResponse
	}
	return Send(ctx, env, uc.Request, decode)
}

func (uc *NextUseCase[R]) Reset(context.Context, WriteTx) error { return nil }

func (uc *NextUseCase[R]) Write(ctx context.Context, tx WriteTx, response R, meta *Response) error {
	return uc.Parent.Write(ctx, tx, response, meta)
}

func (uc *NextUseCase[R]) GetNext(meta *Response) *Request { return uc.Parent.GetNext(meta) }
