package wallet

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"

	"trades-companion/internal/store"
)

// SecretKey 为密钥在 KV 中的存储键。
const SecretKey = "wallet_secret"

const defaultScryptN = 1 << 15

var (
	// ErrNoSecret 表示尚未保存密钥。
	ErrNoSecret = errors.New("wallet: 未保存密钥")
	// ErrDecrypt 表示口令错误或数据损坏。
	ErrDecrypt = errors.New("wallet: 解密失败")
)

type sealedSecret struct {
	Version  int    `json:"v"`
	N        int    `json:"n"`
	Salt     string `json:"salt"`
	Nonce    string `json:"nonce"`
	Box      string `json:"box"`
	Mnemonic bool   `json:"mnemonic"`
}

type secretPayload struct {
	Key      string `json:"key"`
	Mnemonic string `json:"mnemonic,omitempty"`
}

// Keystore 将密钥加密后保存在 KV 中。
type Keystore struct {
	kv         store.KV
	passphrase []byte
	scryptN    int
	logger     *zap.Logger

	mu     sync.Mutex
	cached *Account
}

// NewKeystore 创建密钥存储。
func NewKeystore(kv store.KV, passphrase string, scryptN int, logger *zap.Logger) *Keystore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scryptN <= 1 {
		scryptN = defaultScryptN
	}
	return &Keystore{kv: kv, passphrase: []byte(passphrase), scryptN: scryptN, logger: logger}
}

// Save 加密并保存账户，覆盖已有密钥。
func (k *Keystore) Save(ctx context.Context, account Account) error {
	if len(k.passphrase) == 0 {
		return fmt.Errorf("wallet: 未配置口令")
	}
	payload, err := json.Marshal(secretPayload{Key: EncodeSecretKey(account.PrivateKey), Mnemonic: account.Mnemonic})
	if err != nil {
		return fmt.Errorf("wallet: 序列化密钥失败: %w", err)
	}

	var salt [16]byte
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return fmt.Errorf("wallet: 生成盐失败: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("wallet: 生成随机数失败: %w", err)
	}
	key, err := k.deriveKey(salt[:], k.scryptN)
	if err != nil {
		return err
	}
	box := secretbox.Seal(nil, payload, &nonce, key)

	blob, err := json.Marshal(sealedSecret{
		Version:  1,
		N:        k.scryptN,
		Salt:     base64.StdEncoding.EncodeToString(salt[:]),
		Nonce:    base64.StdEncoding.EncodeToString(nonce[:]),
		Box:      base64.StdEncoding.EncodeToString(box),
		Mnemonic: account.Mnemonic != "",
	})
	if err != nil {
		return fmt.Errorf("wallet: 序列化密文失败: %w", err)
	}
	if err := k.kv.Set(ctx, SecretKey, string(blob)); err != nil {
		return fmt.Errorf("wallet: 保存密钥失败: %w", err)
	}

	k.mu.Lock()
	cached := account
	k.cached = &cached
	k.mu.Unlock()

	k.logger.Info("密钥已保存", zap.String("address", account.Address().String()))
	return nil
}

// Load 读取并解密账户。
func (k *Keystore) Load(ctx context.Context) (Account, error) {
	k.mu.Lock()
	if k.cached != nil {
		account := *k.cached
		k.mu.Unlock()
		return account, nil
	}
	k.mu.Unlock()

	raw, ok, err := k.kv.Get(ctx, SecretKey)
	if err != nil {
		return Account{}, fmt.Errorf("wallet: 读取密钥失败: %w", err)
	}
	if !ok {
		return Account{}, ErrNoSecret
	}

	var sealed sealedSecret
	if err := json.Unmarshal([]byte(raw), &sealed); err != nil {
		return Account{}, fmt.Errorf("wallet: 密文格式非法: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(sealed.Salt)
	if err != nil {
		return Account{}, fmt.Errorf("wallet: 盐格式非法: %w", err)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(sealed.Nonce)
	if err != nil || len(nonceBytes) != 24 {
		return Account{}, fmt.Errorf("wallet: 随机数格式非法")
	}
	box, err := base64.StdEncoding.DecodeString(sealed.Box)
	if err != nil {
		return Account{}, fmt.Errorf("wallet: 密文格式非法: %w", err)
	}

	key, err := k.deriveKey(salt, sealed.N)
	if err != nil {
		return Account{}, err
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)
	plain, ok := secretbox.Open(nil, box, &nonce, key)
	if !ok {
		return Account{}, ErrDecrypt
	}

	var payload secretPayload
	if err := json.Unmarshal(plain, &payload); err != nil {
		return Account{}, fmt.Errorf("wallet: 明文格式非法: %w", err)
	}
	account, err := ImportSecretKey(payload.Key)
	if err != nil {
		return Account{}, err
	}
	account.Mnemonic = payload.Mnemonic

	k.mu.Lock()
	cached := account
	k.cached = &cached
	k.mu.Unlock()
	return account, nil
}

// Exists 判断是否已保存密钥。
func (k *Keystore) Exists(ctx context.Context) (bool, error) {
	_, ok, err := k.kv.Get(ctx, SecretKey)
	if err != nil {
		return false, fmt.Errorf("wallet: 读取密钥失败: %w", err)
	}
	return ok, nil
}

// Wipe 删除已保存的密钥。
func (k *Keystore) Wipe(ctx context.Context) error {
	k.mu.Lock()
	k.cached = nil
	k.mu.Unlock()
	if err := k.kv.Delete(ctx, SecretKey); err != nil {
		return fmt.Errorf("wallet: 删除密钥失败: %w", err)
	}
	k.logger.Info("密钥已清除")
	return nil
}

// Export 由用户主动触发，导出 base58 私钥与助记词（如有）。
func (k *Keystore) Export(ctx context.Context) (secret string, mnemonic string, err error) {
	account, err := k.Load(ctx)
	if err != nil {
		return "", "", err
	}
	k.logger.Warn("密钥已导出", zap.String("address", account.Address().String()))
	return EncodeSecretKey(account.PrivateKey), account.Mnemonic, nil
}

// PrivateKey 返回已加载账户的私钥。
func (k *Keystore) PrivateKey(ctx context.Context) (solana.PrivateKey, error) {
	account, err := k.Load(ctx)
	if err != nil {
		return nil, err
	}
	return account.PrivateKey, nil
}

func (k *Keystore) deriveKey(salt []byte, n int) (*[32]byte, error) {
	if n <= 1 {
		n = defaultScryptN
	}
	derived, err := scrypt.Key(k.passphrase, salt, n, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("wallet: 派生加密密钥失败: %w", err)
	}
	var key [32]byte
	copy(key[:], derived)
	return &key, nil
}
