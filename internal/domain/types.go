package domain

import (
	"fmt"
	"time"
)

// DocumentType 业务单据类型
type DocumentType string

const (
	DocumentTypePurchaseOrder DocumentType = "purchase-order"
	DocumentTypeStockRequest  DocumentType = "stock-request"
	DocumentTypeGenericForm   DocumentType = "generic-form"
)

// ParseDocumentType 解析单据类型
func ParseDocumentType(s string) (DocumentType, error) {
	switch DocumentType(s) {
	case DocumentTypePurchaseOrder, DocumentTypeStockRequest, DocumentTypeGenericForm:
		return DocumentType(s), nil
	}
	return "", NewError(CodeInvalidArgument, fmt.Sprintf("unknown document type %q", s))
}

// FlowKind 流程类型
type FlowKind string

const (
	FlowKindApproval   FlowKind = "approval"
	FlowKindOperations FlowKind = "operations"
	FlowKindReception  FlowKind = "reception"
	FlowKindProduction FlowKind = "production"
)

// ParseFlowKind 解析流程类型
func ParseFlowKind(s string) (FlowKind, error) {
	switch FlowKind(s) {
	case FlowKindApproval, FlowKindOperations, FlowKindReception, FlowKindProduction:
		return FlowKind(s), nil
	}
	return "", NewError(CodeInvalidArgument, fmt.Sprintf("unknown flow kind %q", s))
}

// DocumentRef 单据引用
type DocumentRef struct {
	ID   string       `json:"id"`
	Type DocumentType `json:"type"`
}

// OfficerKind 签署人规格类型
type OfficerKind string

const (
	OfficerKindPerson OfficerKind = "person"
	OfficerKindRole   OfficerKind = "role"
)

// OfficerSpec 签署人规格: 指定人员或角色
type OfficerSpec struct {
	Kind      OfficerKind `json:"kind" mapstructure:"kind"`
	Reference string      `json:"reference" mapstructure:"reference"`
}

// Person 构造人员规格
func Person(id string) OfficerSpec {
	return OfficerSpec{Kind: OfficerKindPerson, Reference: id}
}

// Role 构造角色规格
func Role(name string) OfficerSpec {
	return OfficerSpec{Kind: OfficerKindRole, Reference: name}
}

func (s OfficerSpec) String() string {
	return string(s.Kind) + ":" + s.Reference
}

// Validate 验证签署人规格
func (s OfficerSpec) Validate() error {
	if s.Kind != OfficerKindPerson && s.Kind != OfficerKindRole {
		return NewError(CodeInvalidArgument, fmt.Sprintf("invalid officer kind %q", s.Kind))
	}
	if s.Reference == "" {
		return NewError(CodeInvalidArgument, "officer reference is required")
	}
	return nil
}

// Identity 当前操作人
type Identity struct {
	ID              string   `json:"id"`
	DisplayName     string   `json:"display_name"`
	IsAdministrator bool     `json:"is_administrator"`
	Roles           []string `json:"roles,omitempty"`
}

// HasRole 判断令牌中是否携带角色
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// FlowStatus 流程状态(派生值)
type FlowStatus string

const (
	FlowStatusPending    FlowStatus = "pending"
	FlowStatusInProgress FlowStatus = "in_progress"
	FlowStatusCompleted  FlowStatus = "completed"
)

// Signature 签名记录
type Signature struct {
	ID                int64     `json:"id"`
	FlowID            string    `json:"flow_id"`
	SignerID          string    `json:"signer_id"`
	SignerDisplayName string    `json:"signer_display_name"`
	SignedAt          time.Time `json:"signed_at"`
	SignatureHash     string    `json:"signature_hash"`
}

// ApprovalFlow 审批流程实例
type ApprovalFlow struct {
	ID               string        `json:"id"`
	DocumentID       string        `json:"document_id"`
	DocumentType     DocumentType  `json:"document_type"`
	Kind             FlowKind      `json:"kind"`
	RequiredOfficers []OfficerSpec `json:"required_officers"`
	OptionalOfficers []OfficerSpec `json:"optional_officers"`
	MinSignatures    int           `json:"min_signatures"`
	Signatures       []Signature   `json:"signatures"`
	Status           FlowStatus    `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// SignedBy 判断某人是否已签名
func (f *ApprovalFlow) SignedBy(identityID string) bool {
	for _, s := range f.Signatures {
		if s.SignerID == identityID {
			return true
		}
	}
	return false
}

// StageTag 业务阶段
type StageTag string

const (
	StageItems      StageTag = "items"
	StageOperations StageTag = "operations"
	StageReception  StageTag = "reception"
	StageProduction StageTag = "production"
)

// JobStatus 生成任务状态
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal 是否终态
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// GenerationJob 文档生成任务
type GenerationJob struct {
	ID           string    `json:"job_id"`
	EntityID     string    `json:"entity_id"`
	TemplateCode string    `json:"template_code"`
	TemplateName string    `json:"template_name"`
	Status       JobStatus `json:"status"`
	Filename     string    `json:"filename,omitempty"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	CreatedBy    string    `json:"created_by"`
	UpdatedAt    time.Time `json:"updated_at"`
	Error        string    `json:"error,omitempty"`
}
