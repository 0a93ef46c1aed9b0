package query

import (
	"context"
	"time"
)

// Result is the typed view of a key's State, shaped like the useQuery
// triple {data, isLoading, error}.
type Result[T any] struct {
	Data       T
	IsLoading  bool
	IsFetching bool
	Err        error
	Status     Status
	UpdatedAt  time.Time
}

func toResult[T any](st State) Result[T] {
	r := Result[T]{
		IsLoading:  st.IsLoading(),
		IsFetching: st.IsFetching,
		Err:        st.Err,
		Status:     st.Status,
		UpdatedAt:  st.UpdatedAt,
	}
	if v, ok := st.Data.(T); ok {
		r.Data = v
	}
	return r
}

func erase[T any](fn func(context.Context) (T, error)) FetchFunc {
	return func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
}

// UseQuery is the typed form of Client.Query.
func UseQuery[T any](c *Client, key string, fn func(context.Context) (T, error)) Result[T] {
	return toResult[T](c.Query(key, erase(fn)))
}

// AwaitQuery is the typed form of Client.Fetch.
func AwaitQuery[T any](ctx context.Context, c *Client, key string, fn func(context.Context) (T, error)) Result[T] {
	return toResult[T](c.Fetch(ctx, key, erase(fn)))
}

// RefetchQuery is the typed form of Client.Refetch.
func RefetchQuery[T any](ctx context.Context, c *Client, key string, fn func(context.Context) (T, error)) Result[T] {
	return toResult[T](c.Refetch(ctx, key, erase(fn)))
}
