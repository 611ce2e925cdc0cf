// Package semantic mirrors the vector index into a Qdrant collection and
// searches it with the same ranking contract as the local index.
package semantic

import (
	"context"
	"fmt"
	"sort"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/WessleyAI/docqa/engine/domain"
)

// UpsertBatchSize is the number of points sent per upsert request.
const UpsertBatchSize = 256

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	metric      domain.Metric
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr, collection string, metric domain.Metric) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	vs := NewWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, metric)
	vs.conn = conn
	return vs, nil
}

// NewWithClients builds a VectorStore over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string, metric domain.Metric) *VectorStore {
	if metric == "" {
		metric = domain.MetricL2
	}
	return &VectorStore{points: points, collections: collections, collection: collection, metric: metric}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// Collection returns the collection name.
func (v *VectorStore) Collection() string { return v.collection }

// Metric returns the distance the collection is created with.
func (v *VectorStore) Metric() domain.Metric { return v.metric }

func (v *VectorStore) distance() pb.Distance {
	if v.metric == domain.MetricCosine {
		return pb.Distance_Cosine
	}
	return pb.Distance_Euclid
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: v.distance(),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// DeleteCollection deletes the collection.
func (v *VectorStore) DeleteCollection(ctx context.Context) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: v.collection,
	})
	if err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores records in batches of UpsertBatchSize.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	wait := true
	for start := 0; start < len(records); start += UpsertBatchSize {
		batch := records[start:min(start+UpsertBatchSize, len(records))]
		points := make([]*pb.PointStruct, len(batch))
		for i, r := range batch {
			points[i] = &pb.PointStruct{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.ID)},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: r.Vector},
					},
				},
				Payload: map[string]*pb.Value{
					keyContent:  {Kind: &pb.Value_StringValue{StringValue: r.Text}},
					keyDocument: {Kind: &pb.Value_StringValue{StringValue: r.ID.Document}},
					keyPosition: {Kind: &pb.Value_IntegerValue{IntegerValue: int64(r.ID.Position)}},
					keyOrdinal:  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(r.Ordinal)}},
				},
			}
		}
		_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: v.collection,
			Wait:           &wait,
			Points:         points,
		})
		if err != nil {
			return fmt.Errorf("semantic: upsert %d points at %d: %w", len(batch), start, err)
		}
	}
	return nil
}

// Search returns the k nearest points as hits ranked by ascending distance,
// ties broken by the ordinal recorded at upsert time.
func (v *VectorStore) Search(ctx context.Context, vec []float32, k int) ([]domain.Hit, error) {
	if k <= 0 {
		return []domain.Hit{}, nil
	}
	// Over-fetch so ties straddling the k-th place can be re-ranked.
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         vec,
		Limit:          uint64(2 * k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	type ranked struct {
		hit     domain.Hit
		ordinal int64
	}
	rs := make([]ranked, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		p := r.GetPayload()
		rs = append(rs, ranked{
			hit: domain.Hit{
				ID: domain.SegmentID{
					Document: p[keyDocument].GetStringValue(),
					Position: int(p[keyPosition].GetIntegerValue()),
				},
				Text:     p[keyContent].GetStringValue(),
				Distance: v.toDistance(r.GetScore()),
			},
			ordinal: p[keyOrdinal].GetIntegerValue(),
		})
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].hit.Distance != rs[j].hit.Distance {
			return rs[i].hit.Distance < rs[j].hit.Distance
		}
		return rs[i].ordinal < rs[j].ordinal
	})

	hits := make([]domain.Hit, 0, min(k, len(rs)))
	for i := 0; i < len(rs) && i < k; i++ {
		h := rs[i].hit
		h.Rank = i + 1
		hits = append(hits, h)
	}
	return hits, nil
}

// toDistance converts a Qdrant score: cosine scores are similarities,
// Euclid scores are already distances.
func (v *VectorStore) toDistance(score float32) float32 {
	if v.metric == domain.MetricCosine {
		return 1 - score
	}
	return score
}
