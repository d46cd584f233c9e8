package ledger

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"time"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/event"
	"github.com/dataflowslab/core.rompharm-sub001/internal/model"
	"github.com/dataflowslab/core.rompharm-sub001/internal/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Authorizer 判断身份能否在流程上签名,与追加在同一事务内执行
type Authorizer func(ctx context.Context, identity domain.Identity, flow *domain.ApprovalFlow) (bool, error)

// Ledger 签名账本,只追加
type Ledger struct {
	db        *gorm.DB
	repo      repository.SignatureRepository
	secret    []byte
	publisher event.Publisher
	now       func() time.Time
	logger    logrus.FieldLogger
}

// Option 账本选项
type Option func(*Ledger)

// WithClock 替换时钟
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithPublisher 设置事件发布者
func WithPublisher(p event.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithLogger 设置日志
func WithLogger(logger logrus.FieldLogger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// New 创建签名账本
func New(db *gorm.DB, repo repository.SignatureRepository, secret string, opts ...Option) *Ledger {
	l := &Ledger{
		db:        db,
		repo:      repo,
		secret:    []byte(secret),
		publisher: event.Nop,
		now:       time.Now,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.WithField("component", "ledger")
	return l
}

// Append 追加签名
// 授权检查与插入在同一事务内,(flow, signer) 唯一索引保证同一签署人只成功一次
func (l *Ledger) Append(ctx context.Context, flow *domain.ApprovalFlow, identity domain.Identity, authorize Authorizer) (domain.Signature, error) {
	if flow == nil || flow.ID == "" {
		return domain.Signature{}, domain.NewError(domain.CodeInvalidArgument, "flow is required")
	}
	if identity.ID == "" {
		return domain.Signature{}, domain.ErrNotAuthorized
	}

	var saved *model.SignatureModel
	err := repository.RunInTx(ctx, l.db, func(ctx context.Context) error {
		// 1. 已签名
		if _, err := l.repo.FindByFlowAndSigner(ctx, flow.ID, identity.ID); err == nil {
			return domain.ErrAlreadySigned
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// 2. 授权
		if authorize != nil {
			ok, err := authorize(ctx, identity, flow)
			if err != nil {
				return fmt.Errorf("authorize signer: %w", err)
			}
			if !ok {
				return domain.ErrNotAuthorized
			}
		}

		// 3. 追加
		sig, err := l.newSignature(flow.ID, identity)
		if err != nil {
			return err
		}
		if err := l.repo.Create(ctx, sig); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrAlreadySigned
			}
			return err
		}
		saved = sig
		return nil
	})
	if err != nil {
		return domain.Signature{}, err
	}

	result := toDomain(saved)
	l.publish(ctx, event.TopicSignatureAppended, flow, result)
	l.logger.WithFields(logrus.Fields{
		"flow_id":   flow.ID,
		"signer_id": result.SignerID,
	}).Info("Signature appended")
	return result, nil
}

func (l *Ledger) newSignature(flowID string, identity domain.Identity) (*model.SignatureModel, error) {
	signedAt := l.now().UTC().Truncate(time.Microsecond)
	nonce := uuid.NewString()
	hash, err := computeHash(l.secret, flowID, identity.ID, signedAt, nonce)
	if err != nil {
		return nil, fmt.Errorf("compute signature hash: %w", err)
	}
	name := identity.DisplayName
	if name == "" {
		name = identity.ID
	}
	return &model.SignatureModel{
		FlowID:            flowID,
		SignerID:          identity.ID,
		SignerDisplayName: name,
		SignedAt:          signedAt,
		Nonce:             nonce,
		SignatureHash:     hash,
	}, nil
}

// List 按签名时间列出签名
func (l *Ledger) List(ctx context.Context, flowID string) ([]domain.Signature, error) {
	models, err := l.repo.FindByFlowID(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	sigs := make([]domain.Signature, 0, len(models))
	for _, m := range models {
		sigs = append(sigs, toDomain(m))
	}
	return sigs, nil
}

// Revoke 撤销签名,调用方负责管理员权限检查
func (l *Ledger) Revoke(ctx context.Context, flow *domain.ApprovalFlow, signerID string) (domain.Signature, error) {
	removed, err := l.repo.Delete(ctx, flow.ID, signerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Signature{}, domain.WrapError(domain.CodeNotFound, "signature not found", err)
	}
	if err != nil {
		return domain.Signature{}, fmt.Errorf("revoke signature: %w", err)
	}

	result := toDomain(removed)
	l.publish(ctx, event.TopicSignatureRevoked, flow, result)
	l.logger.WithFields(logrus.Fields{
		"flow_id":   flow.ID,
		"signer_id": signerID,
	}).Warn("Signature revoked")
	return result, nil
}

// Verify 使用服务端保存的随机数重新计算哈希
func (l *Ledger) Verify(ctx context.Context, sig domain.Signature) (bool, error) {
	stored, err := l.repo.FindByFlowAndSigner(ctx, sig.FlowID, sig.SignerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	expected, err := computeHash(l.secret, sig.FlowID, sig.SignerID, sig.SignedAt, stored.Nonce)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(expected), []byte(sig.SignatureHash)) &&
		hmac.Equal([]byte(expected), []byte(stored.SignatureHash)), nil
}

func (l *Ledger) publish(ctx context.Context, topic event.Topic, flow *domain.ApprovalFlow, sig domain.Signature) {
	err := l.publisher.Publish(ctx, event.Event{
		Topic:       topic,
		DocumentID:  flow.DocumentID,
		AggregateID: flow.ID,
		Payload: map[string]interface{}{
			"flow_id":   flow.ID,
			"kind":      string(flow.Kind),
			"signer_id": sig.SignerID,
		},
	})
	if err != nil {
		l.logger.WithError(err).WithField("topic", topic).Error("Failed to publish ledger event")
	}
}

func toDomain(m *model.SignatureModel) domain.Signature {
	return domain.Signature{
		ID:                m.ID,
		FlowID:            m.FlowID,
		SignerID:          m.SignerID,
		SignerDisplayName: m.SignerDisplayName,
		SignedAt:          m.SignedAt.UTC(),
		SignatureHash:     m.SignatureHash,
	}
}
