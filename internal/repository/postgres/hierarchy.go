package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orchardlane/pricing/pkg/database"
)

const treeCacheTTL = 10 * time.Minute

// HierarchyRepository implements repository.HierarchyRepository over the
// tree_nodes adjacency table, with an optional Redis cache in front of the
// recursive closure queries. Trees change rarely, so a short TTL is enough
// to keep repeated order evaluations off the recursive CTEs.
type HierarchyRepository struct {
	db     database.DBTX
	cache  *redis.Client
	logger *slog.Logger
}

// NewHierarchyRepository creates a new PostgreSQL-backed hierarchy
// repository. cache may be nil to disable cross-request caching.
func NewHierarchyRepository(db database.DBTX, cache *redis.Client, logger *slog.Logger) *HierarchyRepository {
	return &HierarchyRepository{db: db, cache: cache, logger: logger}
}

const ancestorsQuery = `
	WITH RECURSIVE closure AS (
		SELECT name, parent, 0 AS depth
		FROM tree_nodes
		WHERE tree = $1 AND name = $2
		UNION ALL
		SELECT t.name, t.parent, c.depth + 1
		FROM tree_nodes t
		JOIN closure c ON t.name = c.parent AND t.tree = $1
	)
	SELECT name FROM closure ORDER BY depth`

// Ancestors returns the node followed by its ancestors up to the root. An
// unknown node yields just itself.
func (r *HierarchyRepository) Ancestors(ctx context.Context, tree, node string) ([]string, error) {
	return r.closure(ctx, "anc", ancestorsQuery, tree, node)
}

const descendantsQuery = `
	WITH RECURSIVE closure AS (
		SELECT name, 0 AS depth
		FROM tree_nodes
		WHERE tree = $1 AND name = $2
		UNION ALL
		SELECT t.name, c.depth + 1
		FROM tree_nodes t
		JOIN closure c ON t.parent = c.name AND t.tree = $1
	)
	SELECT name FROM closure ORDER BY depth, name`

// Descendants returns the node followed by every node beneath it.
func (r *HierarchyRepository) Descendants(ctx context.Context, tree, node string) ([]string, error) {
	return r.closure(ctx, "desc", descendantsQuery, tree, node)
}

func (r *HierarchyRepository) closure(ctx context.Context, kind, query, tree, node string) ([]string, error) {
	cacheKey := fmt.Sprintf("pricing:tree:%s:%s:%s", kind, tree, node)

	if cached := r.cacheGet(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	rows, err := r.db.Query(ctx, query, tree, node)
	if err != nil {
		return nil, fmt.Errorf("tree closure %s/%s: %w", tree, node, err)
	}
	defer rows.Close()

	var closure []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tree node: %w", err)
		}
		closure = append(closure, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tree nodes: %w", err)
	}

	if len(closure) == 0 {
		closure = []string{node}
	}

	r.cacheSet(ctx, cacheKey, closure)
	return closure, nil
}

func (r *HierarchyRepository) cacheGet(ctx context.Context, key string) []string {
	if r.cache == nil {
		return nil
	}
	raw, err := r.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("tree cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		return nil
	}
	var closure []string
	if err := json.Unmarshal(raw, &closure); err != nil {
		r.logger.Warn("tree cache entry corrupt, ignoring", slog.String("key", key))
		return nil
	}
	return closure
}

func (r *HierarchyRepository) cacheSet(ctx context.Context, key string, closure []string) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(closure)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, raw, treeCacheTTL).Err(); err != nil {
		r.logger.Warn("tree cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}
