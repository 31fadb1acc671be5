// Package agents is the Agent Directory & Queue: local and external agent
// sources normalized to one shape, a scoring selector, and the waiting-room
// queue a room falls into when no agent qualifies.
package agents

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aurorabench/converge-backend/internal/model"
)

// Filters narrows a directory listing by department. RequiredSkills does
// not narrow the listing; it only feeds the selector's skill score.
type Filters struct {
	Department     string
	RequiredSkills []string
}

// Source is the small capability set per the design notes: list candidates,
// update a candidate's load. Implemented for the local directory (pgx) and
// the external directory (neo4j).
type Source interface {
	List(ctx context.Context, tenant string, f Filters) ([]model.Agent, error)
	AdjustLoad(ctx context.Context, tenant, agentID string, delta int) error
}

// LocalSource is the Source backed by the tenant's own `users` table.
type LocalSource struct {
	pool *pgxpool.Pool
}

// NewLocalSource creates a LocalSource.
func NewLocalSource(pool *pgxpool.Pool) *LocalSource {
	return &LocalSource{pool: pool}
}

// List returns online local agents with spare capacity.
func (s *LocalSource) List(ctx context.Context, tenant string, f Filters) ([]model.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, email, status, max_concurrent, current_load, department, skills
		FROM users
		WHERE tenant_id = $1 AND status = 'online' AND current_load < max_concurrent`, tenant)
	if err != nil {
		return nil, fmt.Errorf("agents.LocalSource.List: %w", err)
	}
	defer rows.Close()

	var out []model.Agent
	for rows.Next() {
		a := model.Agent{Source: model.AgentSourceLocal}
		var status string
		if err := rows.Scan(&a.AgentID, &a.Name, &a.Email, &status, &a.MaxConcurrent,
			&a.CurrentLoad, &a.Department, &a.Skills); err != nil {
			return nil, fmt.Errorf("agents.LocalSource.List: scan: %w", err)
		}
		a.Status = model.AgentStatus(status)
		if matchesFilters(a, f) {
			out = append(out, a)
		}
	}
	return out, rows.Err()
}

// AdjustLoad applies delta to an agent's current_load column.
func (s *LocalSource) AdjustLoad(ctx context.Context, tenant, agentID string, delta int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET current_load = GREATEST(0, current_load + $1)
		WHERE id = $2 AND tenant_id = $3`, delta, agentID, tenant)
	if err != nil {
		return fmt.Errorf("agents.LocalSource.AdjustLoad: %w", err)
	}
	return nil
}

// EnsureLocalUser creates a local `users` row for an externally-sourced
// agent keyed by email, so Room.assigned_agent_id's FK constraint holds. The
// external directory's own agent ID is kept in the external_id column so
// AdjustLoad calls against that directory can be traced back to it later via
// ExternalID, since once Room.assigned_agent_id is set only the local id
// survives. Idempotent: a second call for the same (tenant, email) is a
// no-op beyond refreshing name/external_id.
func (s *LocalSource) EnsureLocalUser(ctx context.Context, tenant string, a model.Agent) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (tenant_id, name, email, status, max_concurrent, current_load, department, skills, external_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, email) DO UPDATE SET name = EXCLUDED.name, external_id = EXCLUDED.external_id
		RETURNING id`,
		tenant, a.Name, a.Email, string(a.Status), a.MaxConcurrent, a.CurrentLoad, a.Department, a.Skills, a.AgentID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("agents.LocalSource.EnsureLocalUser: %w", err)
	}
	return id, nil
}

// ExternalID looks up the external directory's agent ID for the local user
// row localID, the reverse of EnsureLocalUser's mapping. Returns "" with no
// error if the row has no recorded external_id (a purely local agent).
func (s *LocalSource) ExternalID(ctx context.Context, tenant, localID string) (string, error) {
	var externalID string
	err := s.pool.QueryRow(ctx, `
		SELECT external_id FROM users WHERE id = $1 AND tenant_id = $2`, localID, tenant,
	).Scan(&externalID)
	if err != nil {
		return "", fmt.Errorf("agents.LocalSource.ExternalID: %w", err)
	}
	return externalID, nil
}

func matchesFilters(a model.Agent, f Filters) bool {
	if f.Department != "" && a.Department != "" && a.Department != f.Department {
		return false
	}
	return true
}

// cachedEntry is one tenant's cached external-directory snapshot.
type cachedEntry struct {
	agents    []model.Agent
	fetchedAt time.Time
}

// CachedSource wraps a Source with a per-tenant TTL cache so the external
// directory isn't hit on every selection.
type CachedSource struct {
	inner Source
	ttl   time.Duration
	mu    sync.Mutex
	cache map[string]cachedEntry
}

// DefaultExternalCacheTTL is the external-directory cache TTL.
const DefaultExternalCacheTTL = 5 * time.Minute

// NewCachedSource wraps inner with a TTL cache.
func NewCachedSource(inner Source, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultExternalCacheTTL
	}
	return &CachedSource{inner: inner, ttl: ttl, cache: map[string]cachedEntry{}}
}

// List returns the cached snapshot for tenant when fresh, else refetches.
func (c *CachedSource) List(ctx context.Context, tenant string, f Filters) ([]model.Agent, error) {
	c.mu.Lock()
	entry, ok := c.cache[tenant]
	c.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return filterAgents(entry.agents, f), nil
	}

	fresh, err := c.inner.List(ctx, tenant, Filters{})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[tenant] = cachedEntry{agents: fresh, fetchedAt: time.Now()}
	c.mu.Unlock()
	return filterAgents(fresh, f), nil
}

// AdjustLoad passes through to inner and invalidates the tenant's cache
// entry so the next List reflects the new load.
func (c *CachedSource) AdjustLoad(ctx context.Context, tenant, agentID string, delta int) error {
	if err := c.inner.AdjustLoad(ctx, tenant, agentID, delta); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cache, tenant)
	c.mu.Unlock()
	return nil
}

func filterAgents(agents []model.Agent, f Filters) []model.Agent {
	out := make([]model.Agent, 0, len(agents))
	for _, a := range agents {
		if matchesFilters(a, f) {
			out = append(out, a)
		}
	}
	return out
}

// SelectOptions tunes the selector.
type SelectOptions struct {
	Department     string
	RequiredSkills []string
	PreferLocal    bool
}

// Select scores every candidate and returns the winner:
// score = (1 - load/max)*100 + skillMatches*20 + (department match ? 30:0)
// + (preferLocal && local ? 10:0). Ties break by lowest current_load, then
// deterministically by agent_id.
func Select(candidates []model.Agent, opts SelectOptions) (*model.Agent, bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	type scored struct {
		agent model.Agent
		score float64
	}
	skillSet := make(map[string]bool, len(opts.RequiredSkills))
	for _, s := range opts.RequiredSkills {
		skillSet[s] = true
	}

	scoredList := make([]scored, len(candidates))
	for i, a := range candidates {
		max := a.MaxConcurrent
		if max <= 0 {
			max = 1
		}
		loadRatio := float64(a.CurrentLoad) / float64(max)
		score := (1 - loadRatio) * 100

		matches := 0
		for _, skill := range a.Skills {
			if skillSet[skill] {
				matches++
			}
		}
		score += float64(matches) * 20

		if opts.Department != "" && a.Department == opts.Department {
			score += 30
		}
		if opts.PreferLocal && a.Source == model.AgentSourceLocal {
			score += 10
		}
		scoredList[i] = scored{agent: a, score: score}
	}

	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		if scoredList[i].agent.CurrentLoad != scoredList[j].agent.CurrentLoad {
			return scoredList[i].agent.CurrentLoad < scoredList[j].agent.CurrentLoad
		}
		return scoredList[i].agent.AgentID < scoredList[j].agent.AgentID
	})

	winner := scoredList[0].agent
	return &winner, true
}

// Directory unions local and external sources and runs the selector.
type Directory struct {
	Local        Source
	External     Source
	ExternalOn   bool
	PreferLocal  bool
	SkillRouting bool
}

// NewDirectory creates a Directory. external may be nil when the external
// agent directory is disabled (EXTERNAL_AGENT_DB_ENABLED=false).
func NewDirectory(local, external Source, preferLocal, skillRouting bool) *Directory {
	return &Directory{
		Local:        local,
		External:     external,
		ExternalOn:   external != nil,
		PreferLocal:  preferLocal,
		SkillRouting: skillRouting,
	}
}

// Candidates lists the union of local and (if enabled) external agents
// matching the given filters.
func (d *Directory) Candidates(ctx context.Context, tenant string, f Filters) ([]model.Agent, error) {
	local, err := d.Local.List(ctx, tenant, f)
	if err != nil {
		return nil, fmt.Errorf("agents.Directory.Candidates: local: %w", err)
	}
	if !d.ExternalOn {
		return local, nil
	}
	external, err := d.External.List(ctx, tenant, f)
	if err != nil {
		return nil, fmt.Errorf("agents.Directory.Candidates: external: %w", err)
	}
	return append(local, external...), nil
}

// SelectAgent returns the union's best candidate per the selector formula.
func (d *Directory) SelectAgent(ctx context.Context, tenant string, f Filters) (*model.Agent, bool, error) {
	candidates, err := d.Candidates(ctx, tenant, f)
	if err != nil {
		return nil, false, err
	}
	skills := f.RequiredSkills
	if !d.SkillRouting {
		skills = nil
	}
	agent, ok := Select(candidates, SelectOptions{
		Department:     f.Department,
		RequiredSkills: skills,
		PreferLocal:    d.PreferLocal,
	})
	return agent, ok, nil
}
