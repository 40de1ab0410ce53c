package api

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/donorhub/segmentd/internal/core/auth"
	"github.com/donorhub/segmentd/internal/core/db"
	"github.com/donorhub/segmentd/internal/core/db/dbtest"
	"github.com/donorhub/segmentd/internal/rules"
	"github.com/donorhub/segmentd/internal/segments"
	"github.com/donorhub/segmentd/internal/types"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

var (
	testSecret = []byte("testsecret1234567890abcdefghijklmnop")
	testNow    = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	client      *Client
	keys        map[types.OrganizationID]string
	suggestions *db.SuggestionStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	_, q := dbtest.Open(t)

	donors := db.NewDonorStore(q)
	strp := func(s string) *string { return &s }
	last := testNow.AddDate(0, 0, -10)
	for _, d := range []types.Donor{
		{ID: "d-a", OrganizationID: "org1", TotalDonations: 500, DonationCount: 5, LastDonationDate: &last, Country: strp("CA")},
		{ID: "d-b", OrganizationID: "org1", TotalDonations: 50, DonationCount: 1, Country: strp("FR")},
		{ID: "d-x", OrganizationID: "org2", TotalDonations: 900, DonationCount: 9, Country: strp("CA")},
	} {
		if err := donors.Upsert(ctx, &d); err != nil {
			t.Fatalf("Upsert(%s) error = %v, want nil", d.ID, err)
		}
	}

	svc, err := segments.NewService(donors, db.NewSegmentStore(q), db.NewSuggestionStore(q),
		rules.NewEngine(func() time.Time { return testNow }),
		segments.Options{Logger: discard()})
	if err != nil {
		t.Fatalf("NewService() error = %v, want nil", err)
	}
	segAPI, err := NewSegmentAPI(svc, discard())
	if err != nil {
		t.Fatalf("NewSegmentAPI() error = %v, want nil", err)
	}

	authenticator := auth.NewAuthenticator(map[string][]byte{testSecretID: testSecret}, q)
	h := &harness{keys: map[types.OrganizationID]string{}, suggestions: db.NewSuggestionStore(q)}
	for _, org := range []types.OrganizationID{"org1", "org2"} {
		key, err := authenticator.Issue(ctx, org, "test", testSecretID)
		if err != nil {
			t.Fatalf("Issue(%s) error = %v, want nil", org, err)
		}
		h.keys[org] = key
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(authenticator.UnaryInterceptor()))
	RegisterSegmentServiceServer(srv, segAPI)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v, want nil", err)
	}
	t.Cleanup(func() { conn.Close() })

	h.client = NewClient(conn)
	return h
}

func (h *harness) as(org types.OrganizationID) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "x-api-key", h.keys[org])
}

func wantCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Errorf("status code = %v, want %v (err = %v)", got, want, err)
	}
}

func countryRules(country string) *types.SegmentRules {
	return &types.SegmentRules{Version: 1, Group: &types.RuleGroup{
		Logic: types.LogicAnd,
		Conditions: []types.Condition{
			{ID: "c1", Field: string(rules.FieldCountry), Operator: string(rules.OpEq), Value: country},
		},
	}}
}

func TestSegmentService_Lifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := h.as("org1")

	preview, err := h.client.PreviewSegment(ctx, &PreviewSegmentRequest{Group: countryRules("CA").Group})
	if err != nil {
		t.Fatalf("PreviewSegment() error = %v, want nil", err)
	}
	if preview.Count != 1 {
		t.Errorf("PreviewSegment() count = %d, want 1", preview.Count)
	}

	created, err := h.client.CreateSegment(ctx, &CreateSegmentRequest{
		Name:  "Canada",
		Type:  types.SegmentDynamic,
		Rules: countryRules("CA"),
	})
	if err != nil {
		t.Fatalf("CreateSegment() error = %v, want nil", err)
	}
	seg := created.Segment
	if seg.DonorCount == nil || *seg.DonorCount != preview.Count {
		t.Errorf("CreateSegment() donor_count = %v, want %d", seg.DonorCount, preview.Count)
	}
	if created.NeedsRecalculation {
		t.Error("CreateSegment() needs_recalculation = true, want false")
	}
	if seg.OrganizationID != "org1" {
		t.Errorf("CreateSegment() organization = %q, want org1", seg.OrganizationID)
	}

	got, err := h.client.GetSegment(ctx, &GetSegmentRequest{ID: string(seg.ID)})
	if err != nil {
		t.Fatalf("GetSegment() error = %v, want nil", err)
	}
	if got.Segment.Name != "Canada" {
		t.Errorf("GetSegment() name = %q, want Canada", got.Segment.Name)
	}

	updated, err := h.client.UpdateSegment(ctx, &UpdateSegmentRequest{ID: string(seg.ID), Rules: countryRules("FR")})
	if err != nil {
		t.Fatalf("UpdateSegment() error = %v, want nil", err)
	}
	if updated.Segment.DonorCount == nil || *updated.Segment.DonorCount != 1 {
		t.Errorf("UpdateSegment() donor_count = %v, want 1", updated.Segment.DonorCount)
	}

	recalc, err := h.client.RecalculateSegment(ctx, &RecalculateSegmentRequest{ID: string(seg.ID)})
	if err != nil {
		t.Fatalf("RecalculateSegment() error = %v, want nil", err)
	}
	if recalc.Count != 1 {
		t.Errorf("RecalculateSegment() count = %d, want 1", recalc.Count)
	}

	list, err := h.client.ListSegments(ctx, &ListSegmentsRequest{})
	if err != nil {
		t.Fatalf("ListSegments() error = %v, want nil", err)
	}
	if list.Total != 1 || len(list.Segments) != 1 {
		t.Errorf("ListSegments() total = %d, len = %d, want 1, 1", list.Total, len(list.Segments))
	}

	if _, err := h.client.DeleteSegment(ctx, &DeleteSegmentRequest{ID: string(seg.ID)}); err != nil {
		t.Fatalf("DeleteSegment() error = %v, want nil", err)
	}
	_, err = h.client.GetSegment(ctx, &GetSegmentRequest{ID: string(seg.ID)})
	wantCode(t, err, codes.NotFound)
}

func TestSegmentService_OrganizationIsolation(t *testing.T) {
	h := newHarness(t)

	created, err := h.client.CreateSegment(h.as("org1"), &CreateSegmentRequest{
		Name:  "Canada",
		Type:  types.SegmentDynamic,
		Rules: countryRules("CA"),
	})
	if err != nil {
		t.Fatalf("CreateSegment() error = %v, want nil", err)
	}

	_, err = h.client.GetSegment(h.as("org2"), &GetSegmentRequest{ID: string(created.Segment.ID)})
	wantCode(t, err, codes.NotFound)

	preview, err := h.client.PreviewSegment(h.as("org2"), &PreviewSegmentRequest{Group: countryRules("CA").Group})
	if err != nil {
		t.Fatalf("PreviewSegment() error = %v, want nil", err)
	}
	if preview.Count != 1 {
		t.Errorf("PreviewSegment() org2 count = %d, want 1", preview.Count)
	}
}

func TestSegmentService_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := h.as("org1")

	static, err := h.client.CreateSegment(ctx, &CreateSegmentRequest{Name: "Board", Type: types.SegmentStatic})
	if err != nil {
		t.Fatalf("CreateSegment(static) error = %v, want nil", err)
	}

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{"no api key", func() error {
			_, err := h.client.Catalog(context.Background())
			return err
		}, codes.Unauthenticated},
		{"empty name", func() error {
			_, err := h.client.CreateSegment(ctx, &CreateSegmentRequest{Type: types.SegmentDynamic, Rules: countryRules("CA")})
			return err
		}, codes.InvalidArgument},
		{"dynamic without rules", func() error {
			_, err := h.client.CreateSegment(ctx, &CreateSegmentRequest{Name: "x", Type: types.SegmentDynamic})
			return err
		}, codes.InvalidArgument},
		{"malformed id", func() error {
			_, err := h.client.GetSegment(ctx, &GetSegmentRequest{ID: "not-a-uuid"})
			return err
		}, codes.InvalidArgument},
		{"unknown segment", func() error {
			_, err := h.client.GetSegment(ctx, &GetSegmentRequest{ID: string(types.NewSegmentID())})
			return err
		}, codes.NotFound},
		{"recalculate static", func() error {
			_, err := h.client.RecalculateSegment(ctx, &RecalculateSegmentRequest{ID: string(static.Segment.ID)})
			return err
		}, codes.FailedPrecondition},
		{"unknown suggestion", func() error {
			_, err := h.client.ConvertSuggestion(ctx, &ConvertSuggestionRequest{SuggestionID: string(types.NewSuggestionID())})
			return err
		}, codes.NotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantCode(t, tt.call(), tt.want)
		})
	}
}

func TestSegmentService_Catalog(t *testing.T) {
	h := newHarness(t)

	cat, err := h.client.Catalog(h.as("org1"))
	if err != nil {
		t.Fatalf("Catalog() error = %v, want nil", err)
	}
	if len(cat.Fields) != len(rules.Fields()) {
		t.Fatalf("Catalog() fields = %d, want %d", len(cat.Fields), len(rules.Fields()))
	}
	for _, f := range cat.Fields {
		if len(f.Operators) == 0 {
			t.Errorf("field %s has no operators", f.Key)
		}
	}
}

func TestSegmentService_ConvertSuggestion(t *testing.T) {
	h := newHarness(t)
	ctx := h.as("org1")

	sg := types.Suggestion{
		ID:             types.NewSuggestionID(),
		OrganizationID: "org1",
		Name:           "Canadians",
		Criteria:       []byte(`{"version":1,"group":{"logic":"AND","conditions":[{"id":"c1","field":"country","operator":"eq","value":"CA"}]}}`),
		DonorCount:     1,
		Confidence:     0.8,
		CreatedAt:      testNow,
	}
	if err := h.suggestions.ReplacePending(context.Background(), "org1", []types.Suggestion{sg}); err != nil {
		t.Fatalf("ReplacePending() error = %v, want nil", err)
	}

	listed, err := h.client.ListSuggestions(ctx, &ListSuggestionsRequest{})
	if err != nil {
		t.Fatalf("ListSuggestions() error = %v, want nil", err)
	}
	if len(listed.Suggestions) != 1 {
		t.Fatalf("ListSuggestions() = %d suggestions, want 1", len(listed.Suggestions))
	}

	converted, err := h.client.ConvertSuggestion(ctx, &ConvertSuggestionRequest{SuggestionID: string(sg.ID)})
	if err != nil {
		t.Fatalf("ConvertSuggestion() error = %v, want nil", err)
	}
	if converted.Segment.SuggestionID != sg.ID {
		t.Errorf("ConvertSuggestion() suggestion_id = %q, want %q", converted.Segment.SuggestionID, sg.ID)
	}

	listed, err = h.client.ListSuggestions(ctx, &ListSuggestionsRequest{})
	if err != nil {
		t.Fatalf("ListSuggestions() error = %v, want nil", err)
	}
	if len(listed.Suggestions) != 0 {
		t.Errorf("ListSuggestions() after convert = %d, want 0 pending", len(listed.Suggestions))
	}

	_, err = h.client.ConvertSuggestion(h.as("org2"), &ConvertSuggestionRequest{SuggestionID: string(sg.ID)})
	wantCode(t, err, codes.NotFound)
}
