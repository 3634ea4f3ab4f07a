// Package neo4jgraph persists company records into a Neo4j graph as Company and
// Person nodes joined by WORKS_IN edges.
package neo4jgraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
	"github.com/JakeFAU/registry-graph-crawler/internal/logging"
	"github.com/JakeFAU/registry-graph-crawler/internal/metrics"
)

const (
	mergeCompanyCypher = `MERGE (c:Company {rc: $rc}) ON CREATE SET c += $props`
	mergePersonsCypher = `UNWIND $names AS name MERGE (:Person {name: name})`
	linkByNameCypher   = `UNWIND $names AS name
MATCH (p:Person {name: name})
MATCH (c:Company {name: $company})
MERGE (p)-[:WORKS_IN]->(c)`
	linkByRCCypher = `UNWIND $names AS name
MATCH (p:Person {name: name})
MATCH (c:Company {rc: $rc})
MERGE (p)-[:WORKS_IN]->(c)`
)

var schemaStatements = []string{
	`CREATE CONSTRAINT company_rc IF NOT EXISTS FOR (c:Company) REQUIRE c.rc IS UNIQUE`,
	`CREATE CONSTRAINT person_name IF NOT EXISTS FOR (p:Person) REQUIRE p.name IS UNIQUE`,
	`CREATE INDEX company_name IF NOT EXISTS FOR (c:Company) ON (c.name)`,
}

// Runner executes a single Cypher statement. neo4j.ManagedTransaction
// satisfies it.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error)
}

// txExecutor runs work inside one write transaction.
type txExecutor interface {
	executeWrite(ctx context.Context, work func(Runner) error) error
}

// Config holds the connection settings.
type Config struct {
	URI      string
	Username string
	Password string
	Database string
	LinkBy   crawler.LinkTarget
}

// Store implements crawler.GraphStore on a Neo4j driver.
type Store struct {
	driver neo4j.DriverWithContext
	exec   txExecutor
	linkBy crawler.LinkTarget
	logger *zap.Logger
}

var _ crawler.GraphStore = (*Store)(nil)

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("%w: neo4j uri is required", crawler.ErrInvalidConfig)
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	s := newStore(sessionExecutor{driver: driver, database: cfg.Database}, cfg.LinkBy, logger)
	s.driver = driver
	return s, nil
}

func newStore(exec txExecutor, linkBy crawler.LinkTarget, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if linkBy == "" {
		linkBy = crawler.LinkByName
	}
	return &Store{exec: exec, linkBy: linkBy, logger: logger}
}

// Close releases the driver.
func (s *Store) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	if err := s.driver.Close(ctx); err != nil {
		return fmt.Errorf("close neo4j driver: %w", err)
	}
	return nil
}

// Ping verifies the driver can still reach the server.
func (s *Store) Ping(ctx context.Context) error {
	if s.driver == nil {
		return errors.New("neo4j driver is not connected")
	}
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("verify neo4j connectivity: %w", err)
	}
	return nil
}

// EnsureSchema creates the uniqueness constraints MERGE relies on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		err := s.exec.executeWrite(ctx, func(r Runner) error {
			return run(ctx, r, stmt, nil)
		})
		if err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	s.logger.Info("graph schema ensured", zap.Int("statements", len(schemaStatements)))
	return nil
}

// Upsert writes the company, its representatives, and the edges in three
// separate transactions. A failure stops at the failing step; rerunning the
// whole upsert is safe because every statement is a MERGE.
func (s *Store) Upsert(ctx context.Context, record *crawler.CompanyRecord) error {
	if record == nil {
		return nil
	}
	rc := record.RC.String()

	if err := s.write(ctx, "company", func(r Runner) error {
		return MergeCompany(ctx, r, rc, record.Properties())
	}); err != nil {
		return err
	}
	if len(record.Representatives) == 0 {
		return nil
	}
	if err := s.write(ctx, "persons", func(r Runner) error {
		return MergePersons(ctx, r, record.Representatives)
	}); err != nil {
		return err
	}
	if err := s.write(ctx, "edges", func(r Runner) error {
		return LinkRepresentatives(ctx, r, s.linkBy, record)
	}); err != nil {
		return err
	}
	s.logger.Debug("graph upsert complete", logging.RC(record.RC),
		zap.Int("representatives", len(record.Representatives)))
	return nil
}

func (s *Store) write(ctx context.Context, op string, work func(Runner) error) error {
	err := s.exec.executeWrite(ctx, work)
	metrics.ObserveGraphWrite(op, err)
	if err != nil {
		return fmt.Errorf("graph %s write: %w", op, err)
	}
	return nil
}

// MergeCompany creates the company node keyed by rc. Properties are set only
// on creation.
func MergeCompany(ctx context.Context, r Runner, rc string, props map[string]any) error {
	return run(ctx, r, mergeCompanyCypher, map[string]any{"rc": rc, "props": props})
}

// MergePersons creates one Person node per distinct name.
func MergePersons(ctx context.Context, r Runner, names []string) error {
	return run(ctx, r, mergePersonsCypher, map[string]any{"names": names})
}

// LinkRepresentatives merges a WORKS_IN edge from each representative to the
// company, matching the company by name or by rc.
func LinkRepresentatives(ctx context.Context, r Runner, linkBy crawler.LinkTarget, record *crawler.CompanyRecord) error {
	params := map[string]any{"names": record.Representatives}
	cypher := linkByNameCypher
	switch linkBy {
	case crawler.LinkByRC:
		cypher = linkByRCCypher
		params["rc"] = record.RC.String()
	case crawler.LinkByName, "":
		params["company"] = record.Name()
	default:
		return fmt.Errorf("%w: unknown link target %q", crawler.ErrInvalidConfig, linkBy)
	}
	return run(ctx, r, cypher, params)
}

func run(ctx context.Context, r Runner, cypher string, params map[string]any) error {
	result, err := r.Run(ctx, cypher, params)
	if err != nil {
		return fmt.Errorf("run cypher: %w", err)
	}
	if result == nil {
		return nil
	}
	if _, err := result.Consume(ctx); err != nil {
		return fmt.Errorf("consume result: %w", err)
	}
	return nil
}

type sessionExecutor struct {
	driver   neo4j.DriverWithContext
	database string
}

func (e sessionExecutor) executeWrite(ctx context.Context, work func(Runner) error) (err error) {
	session := e.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: e.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer func() {
		if closeErr := session.Close(ctx); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close session: %w", closeErr))
		}
	}()
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, work(tx)
	})
	return err
}
