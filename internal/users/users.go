package users

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/pawchat/internal/database"
	"github.com/npezzotti/pawchat/internal/types"
	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 5 * time.Minute

// Resolver looks up display names for user ids. The users table belongs to
// the account service, so results are cached for a short time and concurrent
// lookups for the same ids share one query.
type Resolver struct {
	repo  database.UserRepository
	cache *cache.Cache
	sf    singleflight.Group
}

func NewResolver(repo database.UserRepository, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Resolver{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
	}
}

func cacheKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

// DisplayUsers returns the known users among ids. Unknown ids are left out.
func (r *Resolver) DisplayUsers(ctx context.Context, ids []int64) (map[int64]types.User, error) {
	out := make(map[int64]types.User, len(ids))
	var missing []int64

	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		if x, found := r.cache.Get(cacheKey(id)); found {
			out[id] = x.(types.User)
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) == 0 {
		return out, nil
	}

	slices.Sort(missing)
	missing = slices.Compact(missing)

	keys := make([]string, len(missing))
	for i, id := range missing {
		keys[i] = cacheKey(id)
	}

	result, err, _ := r.sf.Do(strings.Join(keys, ","), func() (interface{}, error) {
		found, err := r.repo.GetUsersByIds(ctx, missing)
		if err != nil {
			return nil, err
		}

		users := make([]types.User, len(found))
		for i, u := range found {
			users[i] = types.User{Id: u.Id, Name: u.Name}
			r.cache.Set(cacheKey(u.Id), users[i], cache.DefaultExpiration)
		}
		return users, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}

	users, ok := result.([]types.User)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from singleflight")
	}

	for _, u := range users {
		out[u.Id] = u
	}

	return out, nil
}

// Forget drops a cached entry so the next lookup goes to the store.
func (r *Resolver) Forget(id int64) {
	r.cache.Delete(cacheKey(id))
}
