package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/database"
	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
	"github.com/dataflowslab/core.rompharm-sub001/internal/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close(db) })
	return db
}

type relationCall struct {
	op, user, relation, objectType, objectID string
}

type fakeRelations struct {
	mu    sync.Mutex
	calls []relationCall
	err   error
}

func (f *fakeRelations) SetRelation(_ context.Context, user, relation, objectType, objectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, relationCall{"set", user, relation, objectType, objectID})
	return f.err
}

func (f *fakeRelations) DeleteRelation(_ context.Context, user, relation, objectType, objectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, relationCall{"delete", user, relation, objectType, objectID})
	return f.err
}

func TestAuditLogService_RecordsRequestInfo(t *testing.T) {
	db := setupDB(t)
	svc := service.NewAuditLogService(repository.NewAuditLogRepository(db))

	ctx := service.WithRequestInfo(context.Background(), service.RequestInfo{
		RequestID: "req-1", IP: "10.0.0.1", UserAgent: "curl/8",
	})
	require.NoError(t, svc.RecordAction(ctx, "alice", "sign", "flow", "flow-1", map[string]string{"kind": "approval"}))
	require.NoError(t, svc.RecordAction(context.Background(), "", "revoke", "flow", "flow-1", nil))

	logs, err := svc.ListForResource(context.Background(), "flow", "flow-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)

	byAction := map[string]*model.AuditLogModel{}
	for _, l := range logs {
		byAction[l.Action] = l
	}
	assert.Equal(t, "req-1", byAction["sign"].RequestID)
	assert.Equal(t, "10.0.0.1", byAction["sign"].IP)
	assert.Equal(t, "anonymous", byAction["revoke"].UserID)

	var details map[string]string
	require.NoError(t, json.Unmarshal(byAction["sign"].Details, &details))
	assert.Equal(t, "approval", details["kind"])
}

func TestRoleService_MirrorsOpenFGARoles(t *testing.T) {
	db := setupDB(t)
	relations := &fakeRelations{}
	audit := service.NewAuditLogService(repository.NewAuditLogRepository(db))
	svc := service.NewRoleService(repository.NewRoleMemberRepository(db), relations, []string{"qa"}, audit, logrus.New())
	ctx := context.Background()

	member, err := svc.AddMember(ctx, "qa", &service.AddRoleMemberRequest{IdentityID: "carol", DisplayName: "Carol"}, "root")
	require.NoError(t, err)
	assert.Equal(t, "carol", member.IdentityID)

	_, err = svc.AddMember(ctx, "warehouse", &service.AddRoleMemberRequest{IdentityID: "carol"}, "root")
	require.NoError(t, err)

	// 仅 qa 写入 OpenFGA
	require.Len(t, relations.calls, 1)
	assert.Equal(t, relationCall{"set", "carol", "member", "role", "qa"}, relations.calls[0])

	members, err := svc.Members(ctx, "qa")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Carol", members[0].DisplayName)

	roles, err := svc.Roles(ctx, "carol")
	require.NoError(t, err)
	assert.Len(t, roles, 2)

	require.NoError(t, svc.RemoveMember(ctx, "qa", "carol", "root"))
	require.Len(t, relations.calls, 2)
	assert.Equal(t, "delete", relations.calls[1].op)

	members, err = svc.Members(ctx, "qa")
	require.NoError(t, err)
	assert.Empty(t, members)

	logs, err := audit.ListForResource(ctx, "role", "qa")
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestRoleService_Validation(t *testing.T) {
	db := setupDB(t)
	svc := service.NewRoleService(repository.NewRoleMemberRepository(db), nil, nil, nil, nil)

	_, err := svc.AddMember(context.Background(), "", &service.AddRoleMemberRequest{IdentityID: "carol"}, "root")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRoleService_RelationFailure(t *testing.T) {
	db := setupDB(t)
	relations := &fakeRelations{err: errors.New("openfga unavailable")}
	svc := service.NewRoleService(repository.NewRoleMemberRepository(db), relations, []string{"qa"}, nil, nil)

	_, err := svc.AddMember(context.Background(), "qa", &service.AddRoleMemberRequest{IdentityID: "carol"}, "root")
	assert.Error(t, err)
}

func seedFlow(t *testing.T, db *gorm.DB, id, docID, kind, status string, createdAt time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&model.FlowModel{
		ID:               id,
		DocumentID:       docID,
		DocumentType:     "purchase-order",
		Kind:             kind,
		RequiredOfficers: datatypes.JSON(`[]`),
		OptionalOfficers: datatypes.JSON(`[]`),
		Status:           status,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
	}).Error)
}

func TestQueryService_ListFlows(t *testing.T) {
	db := setupDB(t)
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seedFlow(t, db, "f1", "PO-1", "approval", "completed", base)
	seedFlow(t, db, "f2", "PO-2", "approval", "pending", base.Add(time.Hour))
	seedFlow(t, db, "f3", "PO-3", "approval", "completed", base.Add(2*time.Hour))
	seedFlow(t, db, "f4", "PO-1", "operations", "in_progress", base.Add(3*time.Hour))

	svc := service.NewQueryService(db)
	ctx := context.Background()

	flows, total, err := svc.ListFlows(ctx, &service.ListFlowsFilter{Status: "completed"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, flows, 2)
	// 默认按创建时间倒序
	assert.Equal(t, "f3", flows[0].ID)

	filter := &service.ListFlowsFilter{PageSize: 3, Page: 2, SortBy: "created_at", Order: "asc"}
	flows, total, err = svc.ListFlows(ctx, filter)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
	require.Len(t, flows, 1)
	assert.Equal(t, "f4", flows[0].ID)

	start := base.Add(30 * time.Minute)
	flows, total, err = svc.ListFlows(ctx, &service.ListFlowsFilter{DocumentID: "PO-1", StartTime: &start})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "operations", flows[0].Kind)

	_, _, err = svc.ListFlows(ctx, &service.ListFlowsFilter{SortBy: "id; DROP TABLE approval_flows"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestListFlowsFilter_Normalize(t *testing.T) {
	f := &service.ListFlowsFilter{PageSize: 1000}
	f.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 100, f.PageSize)
	assert.Equal(t, "created_at", f.SortBy)
}

func TestStatisticsService_Summary(t *testing.T) {
	db := setupDB(t)
	now := time.Now().UTC()
	seedFlow(t, db, "f1", "PO-1", "approval", "completed", now)
	seedFlow(t, db, "f2", "PO-2", "approval", "pending", now)
	seedFlow(t, db, "f3", "PO-3", "approval", "completed", now)

	for i, signer := range []string{"alice", "bob"} {
		require.NoError(t, db.Create(&model.SignatureModel{
			FlowID: "f1", SignerID: signer, SignedAt: now.Add(time.Duration(i) * time.Minute),
			Nonce: "n", SignatureHash: "h",
		}).Error)
	}
	require.NoError(t, db.Create(&model.SignatureModel{
		FlowID: "f3", SignerID: "alice", SignedAt: now.AddDate(0, 0, -40), Nonce: "n", SignatureHash: "h",
	}).Error)
	require.NoError(t, db.Create(&model.GenerationJobModel{
		ID: "j1", EntityID: "PO-1", TemplateCode: "coa", Version: 1, Status: "queued", CreatedAt: now, UpdatedAt: now,
	}).Error)

	svc := service.NewStatisticsService(db)
	stats, err := svc.Summary(context.Background(), now.AddDate(0, 0, -30))
	require.NoError(t, err)

	counts := map[string]int64{}
	for _, f := range stats.Flows {
		counts[f.Kind+"/"+f.Status] = f.Count
	}
	assert.EqualValues(t, 2, counts["approval/completed"])
	assert.EqualValues(t, 1, counts["approval/pending"])

	var signatures int64
	for _, s := range stats.Signatures {
		assert.Len(t, s.Date, 10)
		signatures += s.Count
	}
	assert.EqualValues(t, 2, signatures)

	require.Len(t, stats.Jobs, 1)
	assert.Equal(t, "queued", stats.Jobs[0].Status)
}
