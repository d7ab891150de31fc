package store

import (
	"context"
	"errors"

	"github.com/qdrant/go-client/qdrant"

	"github.com/docurag/docurag/pkg/config"
	"github.com/docurag/docurag/pkg/types"
)

const (
	defaultQdrantCollection = "docurag_chunks"
	defaultQdrantDimension  = 1536
)

// QdrantStore delegates similarity search to a Qdrant collection with
// cosine distance. Chunk fields travel in the point payload so search
// hits are self-contained; chunks that have no embedding yet are stored
// with a zero vector and flagged in the payload, which keeps coverage
// accounting consistent with the scan-based backends.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantStore connects and creates the collection when missing.
func NewQdrantStore(ctx context.Context, cfg config.StorageConfig) (*QdrantStore, error) {
	if cfg.QdrantHost == "" {
		return nil, wrapErr("qdrant", "open", errors.New("qdrant_host is required"))
	}
	collection := cfg.QdrantCollection
	if collection == "" {
		collection = defaultQdrantCollection
	}
	dimension := cfg.Dimension
	if dimension <= 0 {
		dimension = defaultQdrantDimension
	}

	client, err := qdrant.NewClient(&qdrant.Config{Host: cfg.QdrantHost, Port: cfg.QdrantPort})
	if err != nil {
		return nil, wrapErr("qdrant", "open", err)
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, wrapErr("qdrant", "open", err)
	}
	if !exists {
		err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, wrapErr("qdrant", "create_collection", err)
		}
	}
	return &QdrantStore{client: client, collection: collection, dimension: dimension}, nil
}

func (s *QdrantStore) UpsertChunks(ctx context.Context, chunks []types.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		vec := c.Embedding
		embedded := len(vec) == s.dimension && len(vec) > 0
		if !embedded {
			vec = make(types.Vector, s.dimension)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(vec...),
			Payload: qdrant.NewValueMap(chunkPayload(c, embedded)),
		})
	}
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	return wrapErr("qdrant", "upsert", err)
}

func (s *QdrantStore) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("document_id", documentID)},
		}),
		Wait: qdrant.PtrOf(true),
	})
	return wrapErr("qdrant", "delete_by_document", err)
}

func (s *QdrantStore) Search(ctx context.Context, query types.Vector, topK int, minScore float32) ([]SearchHit, error) {
	if len(query) != s.dimension {
		return nil, nil
	}
	limit := uint64(topK)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          &limit,
		ScoreThreshold: qdrant.PtrOf(minScore),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchBool("embedded", true)},
		},
	})
	if err != nil {
		return nil, wrapErr("qdrant", "search", err)
	}

	hits := make([]SearchHit, 0, len(points))
	for _, p := range points {
		hits = append(hits, SearchHit{Chunk: chunkFromPayload(p.GetId(), p.GetPayload(), nil), Score: p.GetScore()})
	}
	// Re-sort locally: Qdrant's order for equal scores is not defined.
	return sortHits(hits, topK), nil
}

func (s *QdrantStore) GetChunks(ctx context.Context, ids []string) ([]types.DocumentChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, wrapErr("qdrant", "get_chunks", err)
	}

	byID := make(map[string]types.DocumentChunk, len(points))
	for _, p := range points {
		c := chunkFromPayload(p.GetId(), p.GetPayload(), p.GetVectors())
		byID[c.ID] = c
	}
	out := make([]types.DocumentChunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *QdrantStore) All(ctx context.Context) ([]types.DocumentChunk, error) {
	var out []types.DocumentChunk
	var offset *qdrant.PointId
	for {
		resp, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Limit:          qdrant.PtrOf(uint32(256)),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, wrapErr("qdrant", "all", err)
		}
		if len(resp) == 0 {
			break
		}
		for _, p := range resp {
			out = append(out, chunkFromPayload(p.GetId(), p.GetPayload(), p.GetVectors()))
		}
		last := resp[len(resp)-1].GetId()
		if len(resp) < 256 {
			break
		}
		offset = last
	}
	return out, nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, int, error) {
	total, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, 0, wrapErr("qdrant", "count", err)
	}
	embedded, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchBool("embedded", true)},
		},
	})
	if err != nil {
		return 0, 0, wrapErr("qdrant", "count", err)
	}
	return int(total), int(embedded), nil
}

func (s *QdrantStore) Clear(ctx context.Context) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{}),
		Wait:           qdrant.PtrOf(true),
	})
	return wrapErr("qdrant", "clear", err)
}

func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// chunkPayload flattens a chunk into the point payload. Everything a
// chunk carries besides the vector has to survive the round trip,
// including caller-supplied metadata.
func chunkPayload(c types.DocumentChunk, embedded bool) map[string]any {
	payload := map[string]any{
		"document_id": c.DocumentID,
		"index":       int64(c.Index),
		"content":     c.Content,
		"source_type": c.SourceType,
		"embedded":    embedded,
	}
	if len(c.Metadata) > 0 {
		meta := make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			meta[k] = v
		}
		payload["metadata"] = meta
	}
	return payload
}

func chunkFromPayload(id *qdrant.PointId, payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) types.DocumentChunk {
	c := types.DocumentChunk{ID: id.GetUuid()}
	if v, ok := payload["document_id"]; ok {
		c.DocumentID = v.GetStringValue()
	}
	if v, ok := payload["index"]; ok {
		c.Index = int(v.GetIntegerValue())
	}
	if v, ok := payload["content"]; ok {
		c.Content = v.GetStringValue()
	}
	if v, ok := payload["source_type"]; ok {
		c.SourceType = v.GetStringValue()
	}
	if v, ok := payload["metadata"]; ok {
		if fields := v.GetStructValue().GetFields(); len(fields) > 0 {
			c.Metadata = make(map[string]string, len(fields))
			for k, fv := range fields {
				c.Metadata[k] = fv.GetStringValue()
			}
		}
	}
	embedded := false
	if v, ok := payload["embedded"]; ok {
		embedded = v.GetBoolValue()
	}
	if embedded && vectors != nil {
		if vec := vectors.GetVector(); vec != nil {
			c.Embedding = types.Vector(vec.GetData())
			c.Dimension = len(c.Embedding)
		}
	}
	return c
}

var _ ChunkStore = (*QdrantStore)(nil)
