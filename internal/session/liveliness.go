package session

import "github.com/eclipse-zenoh/zenoh-pico-sub002/internal/keyexpr"

// livelinessPrefix is the reserved key prefix liveliness tokens and
// their subscribers live under (spec.md §4.5 "Liveliness").
const livelinessPrefix = "@/liveliness"

func underLiveliness(ke keyexpr.KeyExpr) keyexpr.KeyExpr {
	prefix := keyexpr.MustCanonicalize(livelinessPrefix)
	return keyexpr.Concat(prefix, ke)
}
