package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/finsight-ai/finsight/pkg/search"
)

// AnalysisRecord is one completed analysis saved to the library.
type AnalysisRecord struct {
	ID           uuid.UUID
	FunctionName string
	Filename     string
	ScriptPath   string
	Question     string
	Description  string
	Parameters   map[string]any
	CreatedAt    time.Time
}

// SaveCompletedAnalysis embeds the question and upserts the record keyed by
// function name. Returns the record ID.
func (s *Store) SaveCompletedAnalysis(ctx context.Context, rec *AnalysisRecord) (uuid.UUID, error) {
	if rec.FunctionName == "" {
		return uuid.Nil, fmt.Errorf("analysis record has no function name")
	}

	vec, err := s.embedder.Embed(ctx, rec.Question)
	if err != nil {
		return uuid.Nil, fmt.Errorf("embed analysis question: %w", err)
	}

	params, err := json.Marshal(rec.Parameters)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal analysis parameters: %w", err)
	}

	var id uuid.UUID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO analyses (function_name, filename, script_path, question, description, parameters, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (function_name) DO UPDATE SET
			filename = EXCLUDED.filename,
			script_path = EXCLUDED.script_path,
			question = EXCLUDED.question,
			description = EXCLUDED.description,
			parameters = EXCLUDED.parameters,
			embedding = EXCLUDED.embedding
		RETURNING id
	`, rec.FunctionName, rec.Filename, rec.ScriptPath, rec.Question, rec.Description,
		params, pgvector.NewVector(vec)).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert analysis: %w", err)
	}
	return id, nil
}

// SearchSimilar embeds the query and returns stored analyses above the
// cosine-similarity threshold, most similar first.
func (s *Store) SearchSimilar(ctx context.Context, query string, topK int, threshold float64) ([]search.AnalysisCandidate, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT function_name, filename, script_path, question, description, parameters,
		       1 - (embedding <=> $1) AS similarity
		FROM analyses
		WHERE embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, pgvector.NewVector(vec), threshold, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}
	defer rows.Close()

	var candidates []search.AnalysisCandidate
	for rows.Next() {
		var c search.AnalysisCandidate
		var params []byte
		if err := rows.Scan(&c.FunctionName, &c.Filename, &c.ScriptPath, &c.Question,
			&c.Description, &params, &c.Similarity); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &c.Parameters); err != nil {
				return nil, fmt.Errorf("unmarshal candidate parameters: %w", err)
			}
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// GetAnalysisByFunction fetches one stored analysis, or nil when absent.
func (s *Store) GetAnalysisByFunction(ctx context.Context, functionName string) (*AnalysisRecord, error) {
	var rec AnalysisRecord
	var params []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, function_name, filename, script_path, question, description, parameters, created_at
		FROM analyses
		WHERE function_name = $1
	`, functionName).Scan(&rec.ID, &rec.FunctionName, &rec.Filename, &rec.ScriptPath,
		&rec.Question, &rec.Description, &params, &rec.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("query analysis: %w", err)
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &rec.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal analysis parameters: %w", err)
		}
	}
	return &rec, nil
}
