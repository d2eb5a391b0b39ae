package zilliz

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/vector"
	"github.com/web-chatbot/backend/pkg/logger"
)

const (
	fieldChunkID   = "chunk_id"
	fieldIndexID   = "index_id"
	fieldURL       = "url"
	fieldPosition  = "position"
	fieldText      = "text"
	fieldEmbedding = "embedding"

	maxTextLen = 4096
)

// Client stores page chunks in a Milvus or Zilliz Cloud collection.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(ctx context.Context, endpoint, apiKey, collectionName string, vectorDim int) (*Client, error) {
	var (
		c   client.Client
		err error
	)
	if apiKey != "" {
		c, err = client.NewClient(ctx, client.Config{
			Address:       endpoint,
			APIKey:        apiKey,
			EnableTLSAuth: strings.HasPrefix(endpoint, "https://"),
		})
	} else {
		c, err = client.NewGrpcClient(ctx, endpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) CreateCollection(ctx context.Context) error {
	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return z.client.LoadCollection(ctx, z.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: z.collectionName,
		Description:    "Web page chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       fieldChunkID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     fieldIndexID,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     fieldURL,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "2048",
				},
			},
			{
				Name:     fieldPosition,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     fieldText,
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": strconv.Itoa(maxTextLen),
				},
			},
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(z.vectorDim),
				},
			},
		},
	}

	err = z.client.CreateCollection(ctx, schema, entity.DefaultShardNumber)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	err = z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	err = z.client.LoadCollection(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", z.collectionName))

	return nil
}

func (z *Client) Insert(ctx context.Context, chunks []vector.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return vector.ErrLengthMismatch
	}
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	indexIDs := make([]string, len(chunks))
	urls := make([]string, len(chunks))
	positions := make([]int64, len(chunks))
	texts := make([]string, len(chunks))

	for i, chunk := range chunks {
		if len(vectors[i]) != z.vectorDim {
			return vector.ErrDimensionMismatch
		}
		chunkIDs[i] = chunk.ID
		indexIDs[i] = chunk.IndexID
		urls[i] = chunk.URL
		positions[i] = int64(chunk.Position)
		texts[i] = truncate(chunk.Text, maxTextLen)
	}

	_, err := z.client.Insert(
		ctx,
		z.collectionName,
		"",
		entity.NewColumnVarChar(fieldChunkID, chunkIDs),
		entity.NewColumnVarChar(fieldIndexID, indexIDs),
		entity.NewColumnVarChar(fieldURL, urls),
		entity.NewColumnInt64(fieldPosition, positions),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnFloatVector(fieldEmbedding, z.vectorDim, vectors),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	err = z.client.Flush(ctx, z.collectionName, false)
	if err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks inserted into vector DB", zap.Int("count", len(chunks)))

	return nil
}

func (z *Client) Search(ctx context.Context, indexID string, query []float32, topK int) ([]vector.Hit, error) {
	if len(query) != z.vectorDim {
		return nil, vector.ErrDimensionMismatch
	}

	expr := fmt.Sprintf(`%s == %s`, fieldIndexID, strconv.Quote(indexID))

	sp, err := entity.NewIndexIvfFlatSearchParam(16)
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		expr,
		[]string{fieldChunkID, fieldIndexID, fieldURL, fieldPosition, fieldText},
		[]entity.Vector{entity.FloatVector(query)},
		fieldEmbedding,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]vector.Hit, 0, topK)
	for _, sr := range searchResult {
		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := sr.Fields.GetColumn(fieldChunkID).GetAsString(i)
			idx, _ := sr.Fields.GetColumn(fieldIndexID).GetAsString(i)
			url, _ := sr.Fields.GetColumn(fieldURL).GetAsString(i)
			position, _ := sr.Fields.GetColumn(fieldPosition).GetAsInt64(i)
			text, _ := sr.Fields.GetColumn(fieldText).GetAsString(i)

			hits = append(hits, vector.Hit{
				Chunk: vector.Chunk{
					ID:       chunkID,
					IndexID:  idx,
					URL:      url,
					Position: int(position),
					Text:     text,
				},
				Score: sr.Scores[i],
			})
		}
	}

	logger.Info("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(hits)),
		zap.String("index_id", indexID),
	)

	return hits, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary
	for n > 0 && (s[n]&0xC0) == 0x80 {
		n--
	}
	return s[:n]
}
