package approval

import "github.com/dataflowslab/core.rompharm-sub001/internal/domain"

// Matcher 判断签名是否归属于规格
type Matcher func(sig domain.Signature, spec domain.OfficerSpec) bool

// RequiredProgress 单个必签规格的完成情况
type RequiredProgress struct {
	Officer   domain.OfficerSpec `json:"officer"`
	Satisfied bool               `json:"satisfied"`
	SignedBy  string             `json:"signed_by,omitempty"`
}

// Summary 流程进度视图
type Summary struct {
	Required      []RequiredProgress `json:"required"`
	RequiredMet   bool               `json:"required_met"`
	OptionalCount int                `json:"optional_count"`
	MinSignatures int                `json:"min_signatures"`
	QuorumMet     bool               `json:"quorum_met"`
	Status        domain.FlowStatus  `json:"status"`
}

// Summarize 计算每个必签规格的满足情况和可选签名数量
// 必签与可选独立计算,同时匹配两组的签名两边都计入
func Summarize(required, optional []domain.OfficerSpec, minSignatures int, signatures []domain.Signature, match Matcher) Summary {
	s := Summary{
		Required:      make([]RequiredProgress, 0, len(required)),
		RequiredMet:   true,
		MinSignatures: minSignatures,
	}

	for _, spec := range required {
		p := RequiredProgress{Officer: spec}
		for _, sig := range signatures {
			if match(sig, spec) {
				p.Satisfied = true
				p.SignedBy = sig.SignerID
				break
			}
		}
		if !p.Satisfied {
			s.RequiredMet = false
		}
		s.Required = append(s.Required, p)
	}

	for _, sig := range signatures {
		for _, spec := range optional {
			if match(sig, spec) {
				s.OptionalCount++
				break
			}
		}
	}
	s.QuorumMet = s.OptionalCount >= minSignatures

	switch {
	case len(required) == 0 && minSignatures <= 0:
		s.Status = domain.FlowStatusCompleted
	case len(signatures) == 0:
		s.Status = domain.FlowStatusPending
	case s.RequiredMet && s.QuorumMet:
		s.Status = domain.FlowStatusCompleted
	default:
		s.Status = domain.FlowStatusInProgress
	}
	return s
}

// Evaluate 派生流程状态,纯函数
func Evaluate(required, optional []domain.OfficerSpec, minSignatures int, signatures []domain.Signature, match Matcher) domain.FlowStatus {
	return Summarize(required, optional, minSignatures, signatures, match).Status
}
