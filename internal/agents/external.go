package agents

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/aurorabench/converge-backend/internal/model"
)

// Neo4jSource is the external Agent Directory backed by a graph database
// shared across the deploying organization (a CRM/helpdesk's own agent
// roster, modeled as (:Agent)-[:SUPPORTS]->(:Tenant) nodes).
type Neo4jSource struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jSource creates a Neo4jSource over an already-open driver.
func NewNeo4jSource(driver neo4j.DriverWithContext) *Neo4jSource {
	return &Neo4jSource{driver: driver}
}

// List returns agents tagged for tenant that are online and under capacity.
func (s *Neo4jSource) List(ctx context.Context, tenant string, f Filters) ([]model.Agent, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (a:Agent)-[:SUPPORTS]->(:Tenant {id: $tenant})
		WHERE a.status = 'online' AND a.currentLoad < a.maxConcurrent
		RETURN a`
	result, err := sess.Run(ctx, cypher, map[string]any{"tenant": tenant})
	if err != nil {
		return nil, fmt.Errorf("agents.Neo4jSource.List: %w", err)
	}

	var out []model.Agent
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "a")
		if err != nil {
			return nil, fmt.Errorf("agents.Neo4jSource.List: %w", err)
		}
		a := agentFromProps(node.Props)
		if matchesFilters(a, f) {
			out = append(out, a)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("agents.Neo4jSource.List: %w", err)
	}
	return out, nil
}

// AdjustLoad updates an external agent's currentLoad property.
func (s *Neo4jSource) AdjustLoad(ctx context.Context, tenant, agentID string, delta int) error {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cypher := `MATCH (a:Agent {id: $id})
			SET a.currentLoad = CASE WHEN a.currentLoad + $delta < 0 THEN 0 ELSE a.currentLoad + $delta END`
		_, err := tx.Run(ctx, cypher, map[string]any{"id": agentID, "delta": delta})
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("agents.Neo4jSource.AdjustLoad: %w", err)
	}
	return nil
}

func agentFromProps(props map[string]any) model.Agent {
	a := model.Agent{Source: model.AgentSourceExternal, Status: model.AgentOnline}
	if v, ok := props["id"].(string); ok {
		a.AgentID = v
	}
	if v, ok := props["name"].(string); ok {
		a.Name = v
	}
	if v, ok := props["email"].(string); ok {
		a.Email = v
	}
	if v, ok := props["status"].(string); ok {
		a.Status = model.AgentStatus(v)
	}
	if v, ok := props["department"].(string); ok {
		a.Department = v
	}
	a.MaxConcurrent = intProp(props, "maxConcurrent", 5)
	a.CurrentLoad = intProp(props, "currentLoad", 0)
	if v, ok := props["skills"].([]any); ok {
		for _, s := range v {
			if str, ok := s.(string); ok {
				a.Skills = append(a.Skills, str)
			}
		}
	}
	return a
}

func intProp(props map[string]any, key string, def int) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}
