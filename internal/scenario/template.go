package scenario

import (
	"errors"
	"fmt"
)

// Pricing is shared by indicator and comparator rows: the component's price, its developer,
// the price the developer sets and the price a non-developer fails to set.
type Pricing struct {
	Contract    string  `yaml:"contract"`
	Developer   Literal `yaml:"developer"`
	Price       Literal `yaml:"price"`
	EditPrice   Literal `yaml:"editPrice"`
	DeniedPrice Literal `yaml:"deniedPrice"`

	// Accounts sending editPrice. Default "owner" and "second".
	DeveloperAccount string `yaml:"developerAccount"`
	DeniedAccount    string `yaml:"deniedAccount"`

	// Enabled false drops the pricing scenarios, for further rows of a contract whose
	// pricing an earlier row already covers.
	Enabled *bool `yaml:"pricing"`
}

type IndicatorTable struct {
	Pricing `yaml:",inline"`
	Bots    []IndicatorBot `yaml:"bots"`
}

type IndicatorBot struct {
	Name    string          `yaml:"name"`
	Account string          `yaml:"account"`
	Index   Literal         `yaml:"index"`
	Param   Literal         `yaml:"param"`
	Ticks   []IndicatorTick `yaml:"ticks"`
	History []Literal       `yaml:"history"`
}

type IndicatorTick struct {
	Price   Literal   `yaml:"price"`
	Value   Literal   `yaml:"value"`
	History []Literal `yaml:"history"`
}

type IndicatorRef struct {
	Contract string  `yaml:"contract"`
	Param    Literal `yaml:"param"`
}

type ComparatorTable struct {
	Pricing `yaml:",inline"`
	First   IndicatorRef    `yaml:"first"`
	Second  IndicatorRef    `yaml:"second"`
	Bots    []ComparatorBot `yaml:"bots"`
}

type ComparatorBot struct {
	Name        string           `yaml:"name"`
	Account     string           `yaml:"account"`
	Index       Literal          `yaml:"index"`
	FirstIndex  Literal          `yaml:"firstIndex"`
	SecondIndex Literal          `yaml:"secondIndex"`
	Ticks       []ComparatorTick `yaml:"ticks"`
}

// ComparatorTick feeds the indicators. Price sets first and second at once; without
// either, only the first indicator is updated.
type ComparatorTick struct {
	Price  Literal `yaml:"price"`
	First  Literal `yaml:"first"`
	Second Literal `yaml:"second"`
	Status Literal `yaml:"status"`
}

func accountPartition(label string) string { return "account:" + label }

func accountRef(label string) string { return "${" + AccountPrefix + label + "}" }

func contractRef(name string) string { return "${" + ContractPrefix + name + "}" }

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func litOr(l Literal, def any) Literal {
	if l.Set {
		return l
	}
	return Lit(def)
}

func (p Pricing) expand() ([]Scenario, error) {
	if p.Contract == "" {
		return nil, errors.New("contract is required")
	}
	if p.Enabled != nil && !*p.Enabled {
		if p.Price.Set || p.Developer.Set || p.EditPrice.Set || p.DeniedPrice.Set {
			return nil, errors.New("pricing false excludes price, developer, editPrice and deniedPrice")
		}
		return nil, nil
	}
	if !p.Price.Set || !p.Developer.Set || !p.EditPrice.Set || !p.DeniedPrice.Set {
		return nil, errors.New("price, developer, editPrice and deniedPrice are required")
	}
	dev := orDefault(p.DeveloperAccount, "owner")
	denied := orDefault(p.DeniedAccount, "second")
	partition := "contract:" + p.Contract

	readPrice := func(want Literal) Step {
		return Step{
			Description: "read price",
			Kind:        KindCall,
			Contract:    p.Contract,
			Method:      "getPriceAndDeveloper",
			Expect:      []Expectation{{Path: "0", Value: want}},
		}
	}
	return []Scenario{
		{
			Name:      p.Contract + ": price and developer",
			Partition: partition,
			Steps: []Step{{
				Description: "initial price and developer",
				Kind:        KindCall,
				Contract:    p.Contract,
				Method:      "getPriceAndDeveloper",
				Expect: []Expectation{
					{Path: "0", Value: p.Price},
					{Path: "1", Value: p.Developer},
				},
			}},
		},
		{
			Name:      p.Contract + ": edit price from developer",
			Partition: partition,
			Steps: []Step{
				{
					Description: "developer edits price",
					Kind:        KindSend,
					Contract:    p.Contract,
					Method:      "editPrice",
					Account:     dev,
					Args:        []Literal{p.EditPrice},
				},
				readPrice(p.EditPrice),
			},
		},
		{
			Name:      p.Contract + ": edit price from non-developer",
			Partition: partition,
			Steps: []Step{
				{
					Description:  "non-developer edit is rejected",
					Kind:         KindSend,
					Contract:     p.Contract,
					Method:       "editPrice",
					Account:      denied,
					Args:         []Literal{p.DeniedPrice},
					ExpectRevert: true,
				},
				readPrice(p.EditPrice),
			},
		},
	}, nil
}

func (t IndicatorTable) expand() ([]Scenario, error) {
	out, err := t.Pricing.expand()
	if err != nil {
		return nil, err
	}
	for i, bot := range t.Bots {
		if bot.Name == "" || bot.Account == "" || !bot.Param.Set {
			return nil, fmt.Errorf("bots[%d]: name, account and param are required", i)
		}
		if len(bot.Ticks) == 0 {
			return nil, fmt.Errorf("bots[%d]: ticks are required", i)
		}
		index := litOr(bot.Index, "0")
		owner := Lit(accountRef(bot.Account))

		steps := []Step{{
			Description: "add trading bot",
			Kind:        KindSend,
			Contract:    t.Contract,
			Method:      "addTradingBot",
			Account:     bot.Account,
			Args:        []Literal{bot.Param},
		}}
		for j, tick := range bot.Ticks {
			if !tick.Price.Set {
				return nil, fmt.Errorf("bots[%d].ticks[%d]: price is required", i, j)
			}
			steps = append(steps, Step{
				Description: fmt.Sprintf("update %v", tick.Price.V),
				Kind:        KindSend,
				Contract:    t.Contract,
				Method:      "update",
				Account:     bot.Account,
				Args:        []Literal{index, tick.Price},
			})
			if tick.Value.Set {
				steps = append(steps, Step{
					Description: fmt.Sprintf("value after %v", tick.Price.V),
					Kind:        KindCall,
					Contract:    t.Contract,
					Method:      "getValue",
					Args:        []Literal{owner, index},
					Expect:      []Expectation{{Path: "0.0", Value: tick.Value}},
				})
			}
			if tick.History != nil {
				steps = append(steps, historyStep(t.Contract, owner, index, tick.History))
			}
		}
		if bot.History != nil {
			steps = append(steps, historyStep(t.Contract, owner, index, bot.History))
		}
		out = append(out, Scenario{
			Name:      t.Contract + ": " + bot.Name,
			Partition: accountPartition(bot.Account),
			Steps:     steps,
		})
	}
	return out, nil
}

func historyStep(contract string, owner, index Literal, history []Literal) Step {
	return Step{
		Description: "history",
		Kind:        KindCall,
		Contract:    contract,
		Method:      "getHistory",
		Args:        []Literal{owner, index},
		Expect:      []Expectation{{Path: "0", Value: Lit(Values(history))}},
	}
}

func (t ComparatorTable) expand() ([]Scenario, error) {
	out, err := t.Pricing.expand()
	if err != nil {
		return nil, err
	}
	if t.First.Contract == "" || t.Second.Contract == "" || !t.First.Param.Set || !t.Second.Param.Set {
		return nil, errors.New("first and second need contract and param")
	}
	for i, bot := range t.Bots {
		if bot.Name == "" || bot.Account == "" {
			return nil, fmt.Errorf("bots[%d]: name and account are required", i)
		}
		if len(bot.Ticks) == 0 {
			return nil, fmt.Errorf("bots[%d]: ticks are required", i)
		}
		index := litOr(bot.Index, "0")
		firstIndex := litOr(bot.FirstIndex, index.V)
		secondIndex := litOr(bot.SecondIndex, index.V)

		steps := []Step{
			{
				Description: "add trading bot to first indicator",
				Kind:        KindSend,
				Contract:    t.First.Contract,
				Method:      "addTradingBot",
				Account:     bot.Account,
				Args:        []Literal{t.First.Param},
			},
			{
				Description: "add trading bot to second indicator",
				Kind:        KindSend,
				Contract:    t.Second.Contract,
				Method:      "addTradingBot",
				Account:     bot.Account,
				Args:        []Literal{t.Second.Param},
			},
			{
				Description: "add trading bot to comparator",
				Kind:        KindSend,
				Contract:    t.Contract,
				Method:      "addTradingBot",
				Account:     bot.Account,
				Args:        []Literal{Lit(contractRef(t.First.Contract)), Lit(contractRef(t.Second.Contract))},
			},
		}
		for j, tick := range bot.Ticks {
			first, second := tick.First, tick.Second
			if tick.Price.Set {
				if first.Set || second.Set {
					return nil, fmt.Errorf("bots[%d].ticks[%d]: price excludes first and second", i, j)
				}
				first, second = tick.Price, tick.Price
			}
			if !first.Set || !tick.Status.Set {
				return nil, fmt.Errorf("bots[%d].ticks[%d]: first and status are required", i, j)
			}
			steps = append(steps, Step{
				Description: fmt.Sprintf("update first indicator %v", first.V),
				Kind:        KindSend,
				Contract:    t.First.Contract,
				Method:      "update",
				Account:     bot.Account,
				Args:        []Literal{firstIndex, first},
			})
			// Up and Down read the first indicator only and are left without updates.
			if second.Set {
				steps = append(steps, Step{
					Description: fmt.Sprintf("update second indicator %v", second.V),
					Kind:        KindSend,
					Contract:    t.Second.Contract,
					Method:      "update",
					Account:     bot.Account,
					Args:        []Literal{secondIndex, second},
				})
			}
			steps = append(steps, Step{
				Description: fmt.Sprintf("check conditions (tick %d)", j),
				Kind:        KindSend,
				Contract:    t.Contract,
				Method:      "checkConditions",
				Account:     bot.Account,
				Args:        []Literal{index, firstIndex, secondIndex},
				Expect:      []Expectation{{Path: "ConditionStatus.status", Value: tick.Status}},
			})
		}
		out = append(out, Scenario{
			Name:      t.Contract + ": " + bot.Name,
			Partition: accountPartition(bot.Account),
			Steps:     steps,
		})
	}
	return out, nil
}
