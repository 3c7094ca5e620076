package order

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	xerrors "TradingTools/internal/errors"
)

// CreateRequest 是创建限价单所需的输入。
type CreateRequest struct {
	TokenSymbol string `json:"tokenSymbol"`
	Amount      string `json:"amount"`
	LimitPrice  string `json:"limitPrice"`
	Destination string `json:"destination"`
}

// Validate 按字段校验创建请求，返回第一个不合法字段的错误。
func (r CreateRequest) Validate() error {
	if err := ValidateSymbol(r.TokenSymbol); err != nil {
		return err
	}
	if err := ValidateAmount(r.Amount); err != nil {
		return err
	}
	if err := ValidatePrice(r.LimitPrice); err != nil {
		return err
	}
	return ValidateAddress(r.Destination)
}

// ValidateSymbol 要求代币符号非空。
func ValidateSymbol(symbol string) error {
	if strings.TrimSpace(symbol) == "" {
		return validationError("tokenSymbol", "代币符号不能为空")
	}
	return nil
}

// ValidateAmount 要求数量为十进制正整数（稳定币最小单位），且不超过 uint256。
func ValidateAmount(amount string) error {
	if _, err := ParseAmount(amount); err != nil {
		return err
	}
	return nil
}

// ParseAmount 将数量解析为 uint256 范围内的正整数。
// 只接受十进制数字，不接受小数点、指数或符号。
func ParseAmount(amount string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return nil, validationError("amount", "数量必须是最小单位的十进制整数")
	}
	if value.Sign() <= 0 {
		return nil, validationError("amount", "数量必须大于零")
	}
	if value.BitLen() > 256 {
		return nil, validationError("amount", "数量超出 uint256 范围")
	}
	return value, nil
}

// ValidatePrice 要求限价为正的十进制数。
func ValidatePrice(price string) error {
	if _, err := parsePositive(price); err != nil {
		return validationError("limitPrice", "限价必须是正数: "+err.Error())
	}
	return nil
}

// ValidateAddress 要求地址为 0x 开头的 20 字节十六进制地址。
func ValidateAddress(address string) error {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return validationError("destination", "地址必须以 0x 开头")
	}
	if !common.IsHexAddress(address) {
		return validationError("destination", "地址格式不正确")
	}
	return nil
}

// ValidateID 要求订单 ID 非空。
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return validationError("orderId", "订单 ID 不能为空")
	}
	return nil
}

func parsePositive(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !value.IsPositive() {
		return decimal.Decimal{}, xerrors.New(xerrors.CodeInvalidArgument, "value must be greater than zero")
	}
	return value, nil
}

func validationError(field, message string) error {
	return xerrors.New(CodeOrderValidation, message, xerrors.WithMetadata("field", field))
}
