package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip39"
)

// ErrInvalidMnemonic 表示助记词校验失败。
var ErrInvalidMnemonic = errors.New("wallet: 助记词无效")

// Account 为派生或导入得到的账户。
type Account struct {
	PrivateKey solana.PrivateKey
	Mnemonic   string // 仅助记词生成/导入时保留
}

// Address 返回账户地址。
func (a Account) Address() solana.PublicKey {
	return a.PrivateKey.PublicKey()
}

// GenerateMnemonic 生成 12 个单词的新助记词并派生账户。
func GenerateMnemonic() (Account, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return Account{}, fmt.Errorf("wallet: 生成熵失败: %w", err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return Account{}, fmt.Errorf("wallet: 生成助记词失败: %w", err)
	}
	return ImportMnemonic(phrase)
}

// ImportMnemonic 先校验助记词，再按 Solana 路径派生账户。
func ImportMnemonic(phrase string) (Account, error) {
	phrase = NormalizeMnemonic(phrase)
	if !bip39.IsMnemonicValid(phrase) {
		return Account{}, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(phrase, "")
	key, err := DeriveKeypair(seed, SolanaPath)
	if err != nil {
		return Account{}, err
	}
	return Account{PrivateKey: solana.PrivateKey(key), Mnemonic: phrase}, nil
}

// NormalizeMnemonic 统一大小写与空白。
func NormalizeMnemonic(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}
