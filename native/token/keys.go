package token

import "github.com/ethereum/go-ethereum/common"

var (
	tokenPrefix      = []byte("token/")
	balanceSegment   = []byte("/balance/")
	allowanceSegment = []byte("/allowance/")
	supplySegment    = []byte("/supply")
	ownerSegment     = []byte("/owner")
)

func (t *Token) key(segment []byte, parts ...common.Address) []byte {
	size := len(tokenPrefix) + common.AddressLength + len(segment) + len(parts)*common.AddressLength
	key := make([]byte, 0, size)
	key = append(key, tokenPrefix...)
	key = append(key, t.address.Bytes()...)
	key = append(key, segment...)
	for _, part := range parts {
		key = append(key, part.Bytes()...)
	}
	return key
}

func (t *Token) balanceKey(account common.Address) []byte {
	return t.key(balanceSegment, account)
}

func (t *Token) allowanceKey(holder, spender common.Address) []byte {
	return t.key(allowanceSegment, holder, spender)
}

func (t *Token) supplyKey() []byte { return t.key(supplySegment) }

func (t *Token) ownerKey() []byte { return t.key(ownerSegment) }
