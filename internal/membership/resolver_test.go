package membership

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/hive-onboarder/internal/backend"
	"github.com/mmeshcher/hive-onboarder/internal/model"
)

type stubRegistry struct {
	code int
	err  error
}

func (s *stubRegistry) Lookup(ctx context.Context, username string) (int, error) {
	return s.code, s.err
}

type stubRecords struct {
	records []model.OnboardingRecord
	err     error
	calls   int
}

func (s *stubRecords) OnboardedBy(ctx context.Context, token, username string) ([]model.OnboardingRecord, error) {
	s.calls++
	return s.records, s.err
}

func TestResolve(t *testing.T) {
	pending := model.OnboardingRecord{Onboarder: "bob", Onboarded: "alice", Amount: "3.000 HIVE"}
	done := model.OnboardingRecord{Onboarder: "carol", Onboarded: "alice", CommentPermlink: "abc-1"}

	tests := []struct {
		name        string
		registry    *stubRegistry
		records     *stubRecords
		status      model.MembershipStatus
		source      model.MembershipSource
		record      *model.OnboardingRecord
		backendCall bool
		resume      bool
	}{
		{
			name:     "registry member skips backend",
			registry: &stubRegistry{code: http.StatusOK},
			records:  &stubRecords{},
			status:   model.MembershipMember,
			source:   model.SourceRegistry,
		},
		{
			name:        "not found anywhere",
			registry:    &stubRegistry{code: http.StatusNotFound},
			records:     &stubRecords{},
			status:      model.MembershipNotMember,
			source:      model.SourceBackend,
			backendCall: true,
		},
		{
			name:        "backend record attached, first wins",
			registry:    &stubRegistry{code: http.StatusNotFound},
			records:     &stubRecords{records: []model.OnboardingRecord{pending, done}},
			status:      model.MembershipMember,
			source:      model.SourceBackend,
			record:      &pending,
			backendCall: true,
			resume:      true,
		},
		{
			name:     "registry server error is unknown",
			registry: &stubRegistry{code: http.StatusBadGateway, err: errors.New("unexpected status: 502")},
			records:  &stubRecords{},
			status:   model.MembershipUnknown,
			source:   model.SourceRegistry,
		},
		{
			name:     "registry unexpected success code is unknown",
			registry: &stubRegistry{code: http.StatusNoContent},
			records:  &stubRecords{},
			status:   model.MembershipUnknown,
			source:   model.SourceRegistry,
		},
		{
			name:     "registry network failure is unknown",
			registry: &stubRegistry{err: errors.New("dial tcp: connection refused")},
			records:  &stubRecords{},
			status:   model.MembershipUnknown,
			source:   model.SourceRegistry,
		},
		{
			name:        "backend failure is unknown",
			registry:    &stubRegistry{code: http.StatusNotFound},
			records:     &stubRecords{err: &backend.HTTPError{Status: http.StatusInternalServerError}},
			status:      model.MembershipUnknown,
			source:      model.SourceBackend,
			backendCall: true,
		},
		{
			name:        "missing token is unknown",
			registry:    &stubRegistry{code: http.StatusNotFound},
			records:     &stubRecords{err: backend.ErrNoToken},
			status:      model.MembershipUnknown,
			source:      model.SourceBackend,
			backendCall: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.registry, tt.records, zap.NewNop())

			got := r.Resolve(context.Background(), "alice", "tkn")

			assert.Equal(t, "alice", got.Account)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.source, got.Source)
			assert.Equal(t, tt.backendCall, tt.records.calls > 0)
			assert.Equal(t, tt.resume, got.Resume())

			if tt.record == nil {
				assert.Nil(t, got.Record)
			} else {
				require.NotNil(t, got.Record)
				assert.Equal(t, *tt.record, *got.Record)
			}

			if tt.status == model.MembershipUnknown {
				assert.NotEmpty(t, got.Reason)
			} else {
				assert.Empty(t, got.Reason)
			}
		})
	}
}
