package chaintest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// SecondsPerMonth is the vesting period used by the escrow contract.
const SecondsPerMonth = 2_592_000

func balanceKey(a common.Address) string { return "balance:" + a.Hex() }

func allowanceKey(owner, spender common.Address) string {
	return "allowance:" + owner.Hex() + ":" + spender.Hex()
}

func onlyOwner(c *Ctx) error {
	return c.Require(c.From == c.GetAddress("owner"), "Only owner")
}

// Token is an ERC20 deployed on the backend.
type Token struct {
	Address common.Address
	ABI     abi.ABI
}

// DeployERC20 deploys a fixed supply token minted to holder.
func DeployERC20(b *Backend, tok Token, symbol string, holder common.Address, supply *big.Int) {
	b.Set(tok.Address, "symbol", symbol)
	b.Set(tok.Address, "totalSupply", new(big.Int).Set(supply))
	b.Set(tok.Address, balanceKey(holder), new(big.Int).Set(supply))
	b.Deploy(tok.Address, tok.ABI, map[string]Method{
		"name":     func(c *Ctx, _ []any) ([]any, error) { return []any{c.GetString("symbol")}, nil },
		"symbol":   func(c *Ctx, _ []any) ([]any, error) { return []any{c.GetString("symbol")}, nil },
		"decimals": func(c *Ctx, _ []any) ([]any, error) { return []any{uint8(18)}, nil },
		"totalSupply": func(c *Ctx, _ []any) ([]any, error) {
			return []any{c.GetBig("totalSupply")}, nil
		},
		"balanceOf": func(c *Ctx, args []any) ([]any, error) {
			return []any{c.GetBig(balanceKey(args[0].(common.Address)))}, nil
		},
		"allowance": func(c *Ctx, args []any) ([]any, error) {
			return []any{c.GetBig(allowanceKey(args[0].(common.Address), args[1].(common.Address)))}, nil
		},
		"transfer": func(c *Ctx, args []any) ([]any, error) {
			if err := tokenTransfer(c, c.From, args[0].(common.Address), args[1].(*big.Int)); err != nil {
				return nil, err
			}
			return []any{true}, nil
		},
		"approve": func(c *Ctx, args []any) ([]any, error) {
			spender, amount := args[0].(common.Address), args[1].(*big.Int)
			c.SetBig(allowanceKey(c.From, spender), amount)
			return []any{true}, c.Emit("Approval", c.From, spender, amount)
		},
		"transferFrom": func(c *Ctx, args []any) ([]any, error) {
			from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
			key := allowanceKey(from, c.From)
			allowed := c.GetBig(key)
			if allowed.Cmp(amount) < 0 {
				return nil, c.Revert("ERC20: transfer amount exceeds allowance")
			}
			c.SetBig(key, allowed.Sub(allowed, amount))
			if err := tokenTransfer(c, from, to, amount); err != nil {
				return nil, err
			}
			return []any{true}, nil
		},
	})
}

// tokenTransfer moves amount on the token whose storage c operates on.
func tokenTransfer(c *Ctx, from, to common.Address, amount *big.Int) error {
	bal := c.GetBig(balanceKey(from))
	if bal.Cmp(amount) < 0 {
		return c.Revert("ERC20: transfer amount exceeds balance")
	}
	c.SetBig(balanceKey(from), bal.Sub(bal, amount))
	c.AddBig(balanceKey(to), amount)
	return c.Emit("Transfer", from, to, amount)
}

// DeploySettings deploys the parameter and currency registry.
func DeploySettings(b *Backend, addr common.Address, a abi.ABI, owner common.Address) {
	b.Set(addr, "owner", owner)
	b.Deploy(addr, a, map[string]Method{
		"getParameterValue": func(c *Ctx, args []any) ([]any, error) {
			return []any{c.GetBig("param:" + args[0].(string))}, nil
		},
		"setParameterValue": func(c *Ctx, args []any) ([]any, error) {
			if err := onlyOwner(c); err != nil {
				return nil, err
			}
			name, v := args[0].(string), args[1].(*big.Int)
			c.SetBig("param:"+name, v)
			return nil, c.Emit("SetParameterValue", name, v, new(big.Int).SetUint64(c.Time))
		},
		"getStableCoinAddress": func(c *Ctx, _ []any) ([]any, error) {
			return []any{c.GetAddress("stableCoin")}, nil
		},
		"setStableCoinAddress": func(c *Ctx, args []any) ([]any, error) {
			if err := onlyOwner(c); err != nil {
				return nil, err
			}
			c.Set("stableCoin", args[0].(common.Address))
			return nil, nil
		},
		"addCurrencyKey": func(c *Ctx, args []any) ([]any, error) {
			if err := onlyOwner(c); err != nil {
				return nil, err
			}
			symbol, currency := args[0].(string), args[1].(common.Address)
			if err := c.Require(c.GetString("symbol:"+currency.Hex()) == "", "Currency already exists"); err != nil {
				return nil, err
			}
			c.Append("currencies", currency)
			c.Set("symbol:"+currency.Hex(), symbol)
			return nil, nil
		},
		"getAvailableCurrencies": func(c *Ctx, _ []any) ([]any, error) {
			return []any{c.Addresses("currencies")}, nil
		},
		"getCurrencyKeyFromIndex": func(c *Ctx, args []any) ([]any, error) {
			list := c.Addresses("currencies")
			i := args[0].(*big.Int)
			if err := c.Require(i.Sign() > 0 && i.Cmp(big.NewInt(int64(len(list)))) <= 0, "Index out of range"); err != nil {
				return nil, err
			}
			return []any{list[i.Int64()-1]}, nil
		},
		"getCurrencySymbol": func(c *Ctx, args []any) ([]any, error) {
			return []any{c.GetString("symbol:" + args[0].(common.Address).Hex())}, nil
		},
		"checkIfCurrencyIsAvailable": func(c *Ctx, args []any) ([]any, error) {
			return []any{c.GetString("symbol:"+args[0].(common.Address).Hex()) != ""}, nil
		},
	})
}

// DeployDistributeFunds deploys the recipient registry. Recipients are paid from the
// contract's own token balance.
func DeployDistributeFunds(b *Backend, addr common.Address, a abi.ABI, owner common.Address, tok Token) {
	b.Set(addr, "owner", owner)
	b.Deploy(addr, a, map[string]Method{
		"addRecipient": func(c *Ctx, args []any) ([]any, error) {
			if err := onlyOwner(c); err != nil {
				return nil, err
			}
			recipient, qty, name := args[0].(common.Address), args[1].(*big.Int), args[2].(string)
			if err := c.Require(c.GetString("name:"+recipient.Hex()) == "", "Recipient already exists"); err != nil {
				return nil, err
			}
			c.Append("recipients", recipient)
			c.SetBig("quantity:"+recipient.Hex(), qty)
			c.Set("name:"+recipient.Hex(), name)
			c.Set("byName:"+name, recipient)
			if err := tokenTransfer(c.At(tok.Address, tok.ABI), c.Self, recipient, qty); err != nil {
				return nil, err
			}
			return nil, c.Emit("AddedRecipient", recipient, qty, name, new(big.Int).SetUint64(c.Time))
		},
		"getAddresses": func(c *Ctx, _ []any) ([]any, error) {
			return []any{c.Addresses("recipients")}, nil
		},
		"getRecipientByName": func(c *Ctx, args []any) ([]any, error) {
			recipient := c.GetAddress("byName:" + args[0].(string))
			return []any{c.GetBig("quantity:" + recipient.Hex()), recipient}, nil
		},
		"getRecipientByAddress": func(c *Ctx, args []any) ([]any, error) {
			recipient := args[0].(common.Address)
			return []any{c.GetBig("quantity:" + recipient.Hex()), c.GetString("name:" + recipient.Hex())}, nil
		},
	})
}

type vestingEntry struct {
	time     *big.Int
	quantity *big.Int
	vested   bool
}

// DeployEscrow deploys the vesting escrow. Vested tokens are paid from the escrow's own
// token balance.
func DeployEscrow(b *Backend, addr common.Address, a abi.ABI, owner common.Address, tok Token) {
	b.Set(addr, "owner", owner)

	entries := func(c *Ctx, account common.Address) []vestingEntry {
		l := c.List("schedule:" + account.Hex())
		out := make([]vestingEntry, len(l))
		for i, v := range l {
			out[i] = v.(vestingEntry)
		}
		return out
	}
	next := func(c *Ctx, account common.Address) (int, []vestingEntry) {
		es := entries(c, account)
		for i, e := range es {
			if !e.vested {
				return i, es
			}
		}
		return len(es), es
	}
	addEntries := func(c *Ctx, account common.Address, times, quantities []*big.Int) error {
		total := new(big.Int)
		for i := range times {
			c.Append("schedule:"+account.Hex(), vestingEntry{time: times[i], quantity: quantities[i]})
			total.Add(total, quantities[i])
		}
		c.AddBig(balanceKey(account), total)
		c.AddBig("totalVestedBalance", total)
		return c.Emit("AddedVestingSchedule", account, new(big.Int).SetUint64(c.Time))
	}

	b.Deploy(addr, a, map[string]Method{
		"addUniformMonthlyVestingSchedule": func(c *Ctx, args []any) ([]any, error) {
			if err := onlyOwner(c); err != nil {
				return nil, err
			}
			account, qty, months := args[0].(common.Address), args[1].(*big.Int), args[2].(*big.Int)
			if err := c.Require(months.Sign() > 0 && months.IsInt64() && months.Int64() <= 60, "Invalid number of months"); err != nil {
				return nil, err
			}
			n := months.Int64()
			per := new(big.Int).Div(qty, months)
			var times, quantities []*big.Int
			for i := int64(1); i <= n; i++ {
				times = append(times, new(big.Int).SetUint64(c.Time+uint64(i)*SecondsPerMonth))
				quantities = append(quantities, new(big.Int).Set(per))
			}
			return nil, addEntries(c, account, times, quantities)
		},
		"addCustomVestingSchedule": func(c *Ctx, args []any) ([]any, error) {
			if err := onlyOwner(c); err != nil {
				return nil, err
			}
			account, times, quantities := args[0].(common.Address), args[1].([]*big.Int), args[2].([]*big.Int)
			if err := c.Require(len(times) == len(quantities) && len(times) > 0, "Length mismatch"); err != nil {
				return nil, err
			}
			return nil, addEntries(c, account, times, quantities)
		},
		"vest": func(c *Ctx, _ []any) ([]any, error) {
			es := entries(c, c.From)
			total := new(big.Int)
			list := make([]any, len(es))
			for i, e := range es {
				if !e.vested && e.time.Cmp(new(big.Int).SetUint64(c.Time)) <= 0 {
					e.vested = true
					total.Add(total, e.quantity)
				}
				list[i] = e
			}
			if total.Sign() == 0 {
				return nil, nil
			}
			c.Set("schedule:"+c.From.Hex(), list)
			c.AddBig(balanceKey(c.From), new(big.Int).Neg(total))
			c.AddBig("totalVestedBalance", new(big.Int).Neg(total))
			if err := tokenTransfer(c.At(tok.Address, tok.ABI), c.Self, c.From, total); err != nil {
				return nil, err
			}
			return nil, c.Emit("Vested", c.From, new(big.Int).SetUint64(c.Time), total)
		},
		"balanceOf": func(c *Ctx, args []any) ([]any, error) {
			return []any{c.GetBig(balanceKey(args[0].(common.Address)))}, nil
		},
		"numVestingEntries": func(c *Ctx, args []any) ([]any, error) {
			return []any{big.NewInt(int64(len(entries(c, args[0].(common.Address)))))}, nil
		},
		"totalVestedBalance": func(c *Ctx, _ []any) ([]any, error) {
			return []any{c.GetBig("totalVestedBalance")}, nil
		},
		"getNextVestingIndex": func(c *Ctx, args []any) ([]any, error) {
			i, _ := next(c, args[0].(common.Address))
			return []any{big.NewInt(int64(i))}, nil
		},
		"getNextVestingQuantity": func(c *Ctx, args []any) ([]any, error) {
			i, es := next(c, args[0].(common.Address))
			if i == len(es) {
				return []any{new(big.Int)}, nil
			}
			return []any{es[i].quantity}, nil
		},
		"getNextVestingTime": func(c *Ctx, args []any) ([]any, error) {
			i, es := next(c, args[0].(common.Address))
			if i == len(es) {
				return []any{new(big.Int)}, nil
			}
			return []any{es[i].time}, nil
		},
		"getVestingScheduleEntry": func(c *Ctx, args []any) ([]any, error) {
			es := entries(c, args[0].(common.Address))
			i := args[1].(*big.Int)
			if err := c.Require(i.IsInt64() && i.Int64() < int64(len(es)), "Index out of range"); err != nil {
				return nil, err
			}
			e := es[i.Int64()]
			return []any{e.time, e.quantity}, nil
		},
	})
}

// IndicatorFunc computes an indicator's value after a price update. prices holds every
// price received so far, newest last. A nil history entry leaves the history unchanged.
type IndicatorFunc func(param *big.Int, prices []*big.Int) (value, history *big.Int)

// LatestPrice reports the most recent price.
func LatestPrice(_ *big.Int, prices []*big.Int) (*big.Int, *big.Int) {
	p := prices[len(prices)-1]
	return p, p
}

// Interval reports its parameter.
func Interval(param *big.Int, _ []*big.Int) (*big.Int, *big.Int) {
	return param, param
}

// HighOfLastN reports the highest of the last param prices once param prices were seen.
func HighOfLastN(param *big.Int, prices []*big.Int) (*big.Int, *big.Int) {
	latest := prices[len(prices)-1]
	n := int(param.Int64())
	if n <= 0 || len(prices) < n {
		return new(big.Int), latest
	}
	high := new(big.Int)
	for _, p := range prices[len(prices)-n:] {
		if p.Cmp(high) > 0 {
			high = p
		}
	}
	return high, latest
}

func botKey(owner common.Address, index int64, field string) string {
	return fmt.Sprintf("bot:%s:%d:%s", owner.Hex(), index, field)
}

func botCountKey(owner common.Address) string { return "bots:" + owner.Hex() }

// DeployIndicator deploys a priced indicator whose per-bot value is computed by fn.
func DeployIndicator(b *Backend, addr common.Address, a abi.ABI, developer common.Address, price int64, fn IndicatorFunc) {
	methods := pricedMethods(b, addr, developer, price)
	methods["addTradingBot"] = func(c *Ctx, args []any) ([]any, error) {
		n := c.GetBig(botCountKey(c.From)).Int64()
		c.SetBig(botKey(c.From, n, "param"), args[0].(*big.Int))
		c.SetBig(botCountKey(c.From), big.NewInt(n+1))
		return nil, nil
	}
	methods["update"] = func(c *Ctx, args []any) ([]any, error) {
		index, price := args[0].(*big.Int), args[1].(*big.Int)
		if err := c.Require(index.Cmp(c.GetBig(botCountKey(c.From))) < 0, "Index out of range"); err != nil {
			return nil, err
		}
		i := index.Int64()
		c.Append(botKey(c.From, i, "prices"), new(big.Int).Set(price))
		value, hist := fn(c.GetBig(botKey(c.From, i, "param")), c.Bigs(botKey(c.From, i, "prices")))
		c.SetBig(botKey(c.From, i, "value"), value)
		if hist != nil {
			c.Append(botKey(c.From, i, "history"), new(big.Int).Set(hist))
		}
		return nil, nil
	}
	methods["getValue"] = func(c *Ctx, args []any) ([]any, error) {
		owner, index := args[0].(common.Address), args[1].(*big.Int)
		return []any{[]*big.Int{c.GetBig(botKey(owner, index.Int64(), "value"))}}, nil
	}
	methods["getHistory"] = func(c *Ctx, args []any) ([]any, error) {
		owner, index := args[0].(common.Address), args[1].(*big.Int)
		return []any{c.Bigs(botKey(owner, index.Int64(), "history"))}, nil
	}
	b.Deploy(addr, a, methods)
}

// DeployFallsTo deploys a comparator that reports true when the first indicator's value
// moves from above the second indicator's value into a 0.1% band around it.
func DeployFallsTo(b *Backend, addr common.Address, a abi.ABI, developer common.Address, price int64) {
	methods := pricedMethods(b, addr, developer, price)
	methods["addTradingBot"] = func(c *Ctx, args []any) ([]any, error) {
		n := c.GetBig(botCountKey(c.From)).Int64()
		c.Set(botKey(c.From, n, "first"), args[0].(common.Address))
		c.Set(botKey(c.From, n, "second"), args[1].(common.Address))
		c.SetBig(botCountKey(c.From), big.NewInt(n+1))
		return nil, nil
	}
	methods["checkConditions"] = func(c *Ctx, args []any) ([]any, error) {
		index, firstIndex, secondIndex := args[0].(*big.Int), args[1].(*big.Int), args[2].(*big.Int)
		if err := c.Require(index.Cmp(c.GetBig(botCountKey(c.From))) < 0, "Index out of range"); err != nil {
			return nil, err
		}
		i := index.Int64()
		first := c.At(c.GetAddress(botKey(c.From, i, "first")), abi.ABI{}).GetBig(botKey(c.From, firstIndex.Int64(), "value"))
		second := c.At(c.GetAddress(botKey(c.From, i, "second")), abi.ABI{}).GetBig(botKey(c.From, secondIndex.Int64(), "value"))

		lower := new(big.Int).Div(new(big.Int).Mul(second, big.NewInt(999)), big.NewInt(1000))
		upper := new(big.Int).Div(new(big.Int).Mul(second, big.NewInt(1001)), big.NewInt(1000))
		prevLower := c.GetBig(botKey(c.From, i, "lower"))
		prevUpper := c.GetBig(botKey(c.From, i, "upper"))
		prevFirst := c.GetBig(botKey(c.From, i, "previous"))
		seen := c.GetBool(botKey(c.From, i, "seen"))

		status := seen && prevFirst.Cmp(prevUpper) > 0 && first.Cmp(lower) >= 0 && first.Cmp(upper) <= 0

		c.SetBig(botKey(c.From, i, "lower"), lower)
		c.SetBig(botKey(c.From, i, "upper"), upper)
		c.SetBig(botKey(c.From, i, "previous"), first)
		c.Set(botKey(c.From, i, "seen"), true)
		if err := c.Emit("Bounds", prevLower, prevUpper, lower, upper); err != nil {
			return nil, err
		}
		if err := c.Emit("ConditionStatus", status); err != nil {
			return nil, err
		}
		return []any{status}, nil
	}
	b.Deploy(addr, a, methods)
}

func pricedMethods(b *Backend, addr, developer common.Address, price int64) map[string]Method {
	b.Set(addr, "developer", developer)
	b.Set(addr, "price", big.NewInt(price))
	return map[string]Method{
		"getName": func(c *Ctx, _ []any) ([]any, error) { return []any{c.GetString("name")}, nil },
		"getPriceAndDeveloper": func(c *Ctx, _ []any) ([]any, error) {
			return []any{c.GetBig("price"), c.GetAddress("developer")}, nil
		},
		"editPrice": func(c *Ctx, args []any) ([]any, error) {
			if err := c.Require(c.From == c.GetAddress("developer"), "Only developer"); err != nil {
				return nil, err
			}
			p := args[0].(*big.Int)
			c.SetBig("price", p)
			return nil, c.Emit("UpdatedPrice", c.Self, p, new(big.Int).SetUint64(c.Time))
		},
	}
}

// DeployComponents deploys the marketplace. Purchases pay the component's developer in tok.
// Purchases are not deduplicated: buying twice pays twice and lists the component twice.
func DeployComponents(b *Backend, addr common.Address, a abi.ABI, owner common.Address, tok Token) {
	b.Set(addr, "owner", owner)

	add := func(kind string) Method {
		return func(c *Ctx, args []any) ([]any, error) {
			if err := onlyOwner(c); err != nil {
				return nil, err
			}
			isDefault, component := args[0].(bool), args[1].(common.Address)
			list := kind + "s"
			if isDefault {
				list = "default" + kind + "s"
			}
			c.Append(list, component)
			c.Set(kind+":"+component.Hex(), true)
			// Owner always holds every component.
			c.Append("purchased"+kind+"s:"+c.From.Hex(), component)
			return nil, nil
		}
	}
	buy := func(kind, event string) Method {
		return func(c *Ctx, args []any) ([]any, error) {
			component := args[0].(common.Address)
			if err := c.Require(c.GetBool(kind+":"+component.Hex()), "Component not found"); err != nil {
				return nil, err
			}
			developer := c.At(component, abi.ABI{}).GetAddress("developer")
			if err := c.Require(c.From != developer, "Developer cannot buy own component"); err != nil {
				return nil, err
			}
			price := c.At(component, abi.ABI{}).GetBig("price")
			if err := tokenTransfer(c.At(tok.Address, tok.ABI), c.From, developer, price); err != nil {
				return nil, err
			}
			c.Append("purchased"+kind+"s:"+c.From.Hex(), component)
			return nil, c.Emit(event, c.From, component, new(big.Int).SetUint64(c.Time))
		}
	}
	list := func(key string) Method {
		return func(c *Ctx, _ []any) ([]any, error) { return []any{c.Addresses(key)}, nil }
	}
	fromIndex := func(kind string) Method {
		return func(c *Ctx, args []any) ([]any, error) {
			key := kind + "s"
			if args[0].(bool) {
				key = "default" + kind + "s"
			}
			l := c.Addresses(key)
			i := args[1].(*big.Int)
			if err := c.Require(i.IsInt64() && i.Int64() < int64(len(l)), "Index out of range"); err != nil {
				return nil, err
			}
			return []any{l[i.Int64()]}, nil
		}
	}
	purchased := func(kind string) Method {
		return func(c *Ctx, args []any) ([]any, error) {
			return []any{c.Addresses("purchased" + kind + "s:" + args[0].(common.Address).Hex())}, nil
		}
	}
	checkPurchased := func(kind string) Method {
		return func(c *Ctx, args []any) ([]any, error) {
			user, i := args[0].(common.Address), args[1].(*big.Int)
			l := c.Addresses(kind + "s")
			if !i.IsInt64() || i.Int64() >= int64(len(l)) {
				return []any{false}, nil
			}
			want := l[i.Int64()]
			for _, p := range c.Addresses("purchased" + kind + "s:" + user.Hex()) {
				if p == want {
					return []any{true}, nil
				}
			}
			return []any{false}, nil
		}
	}

	b.Deploy(addr, a, map[string]Method{
		"_addNewIndicator":               add("indicator"),
		"_addNewComparator":              add("comparator"),
		"getDefaultIndicators":           list("defaultindicators"),
		"getDefaultComparators":          list("defaultcomparators"),
		"getIndicators":                  list("indicators"),
		"getComparators":                 list("comparators"),
		"getIndicatorFromIndex":          fromIndex("indicator"),
		"getComparatorFromIndex":         fromIndex("comparator"),
		"getUserPurchasedIndicators":     purchased("indicator"),
		"getUserPurchasedComparators":    purchased("comparator"),
		"checkIfUserPurchasedIndicator":  checkPurchased("indicator"),
		"checkIfUserPurchasedComparator": checkPurchased("comparator"),
		"buyIndicator":                   buy("indicator", "PurchasedIndicator"),
		"buyComparator":                  buy("comparator", "PurchasedComparator"),
	})
}
