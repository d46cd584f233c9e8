package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// hashInput 参与签名哈希的字段,字段顺序固定
type hashInput struct {
	FlowID   string `json:"flow_id"`
	SignerID string `json:"signer_id"`
	SignedAt string `json:"signed_at"`
	Nonce    string `json:"nonce"`
}

// computeHash HMAC-SHA256(secret, canonical JSON) 的十六进制
func computeHash(secret []byte, flowID, signerID string, signedAt time.Time, nonce string) (string, error) {
	payload, err := json.Marshal(hashInput{
		FlowID:   flowID,
		SignerID: signerID,
		SignedAt: signedAt.UTC().Format(time.RFC3339Nano),
		Nonce:    nonce,
	})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
