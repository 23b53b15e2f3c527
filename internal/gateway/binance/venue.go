package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"signaldesk/internal/logger"
	"signaldesk/internal/market"
	symbolpkg "signaldesk/internal/pkg/symbol"
	"signaldesk/internal/risk"
	"signaldesk/internal/trader"

	"github.com/adshao/go-binance/v2/futures"
)

// Venue 在 Binance U 本位合约上实现 trader.Venue。
type Venue struct {
	cfg    Config
	client *futures.Client
	now    func() time.Time

	mu        sync.Mutex
	filters   map[string]market.Instrument
	filtersAt time.Time
}

var _ trader.Venue = (*Venue)(nil)

func NewVenue(cfg Config) (*Venue, error) {
	final := cfg.withDefaults()
	if final.APIKey == "" || final.APISecret == "" {
		return nil, fmt.Errorf("binance venue requires api key and secret")
	}
	client, err := newClient(final, final.APIKey, final.APISecret)
	if err != nil {
		return nil, err
	}
	return &Venue{cfg: final, client: client, now: time.Now}, nil
}

// Balance 返回报价资产的可用余额。
func (v *Venue) Balance(ctx context.Context) (float64, error) {
	rows, err := v.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance balance: %w", err)
	}
	for _, row := range rows {
		if row != nil && strings.EqualFold(row.Asset, v.cfg.QuoteAsset) {
			return parseFloat(row.AvailableBalance), nil
		}
	}
	return 0, nil
}

// OpenPositions 只返回持仓数量非零的行。
func (v *Venue) OpenPositions(ctx context.Context) ([]market.Position, error) {
	rows, err := v.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance position risk: %w", err)
	}
	out := make([]market.Position, 0, 4)
	for _, row := range rows {
		if row == nil {
			continue
		}
		amt := parseFloat(row.PositionAmt)
		if amt == 0 {
			continue
		}
		pos := market.Position{
			Symbol:     row.Symbol,
			Side:       market.SideLong,
			Quantity:   amt,
			EntryPrice: parseFloat(row.EntryPrice),
		}
		if amt < 0 {
			pos.Side = market.SideShort
			pos.Quantity = -amt
		}
		out = append(out, pos)
	}
	return out, nil
}

// Instrument 读取合约的价格/数量过滤器，交易所信息缓存一小时。
func (v *Venue) Instrument(ctx context.Context, symbol string) (market.Instrument, error) {
	code := symbolpkg.ToBinance(symbol)
	v.mu.Lock()
	fresh := v.filters != nil && v.now().Sub(v.filtersAt) < filterCacheTTL
	if fresh {
		inst, ok := v.filters[code]
		v.mu.Unlock()
		if !ok {
			return market.Instrument{}, fmt.Errorf("binance instrument %s not listed", code)
		}
		return inst, nil
	}
	v.mu.Unlock()

	info, err := v.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return market.Instrument{}, fmt.Errorf("binance exchange info: %w", err)
	}
	filters := make(map[string]market.Instrument, len(info.Symbols))
	for i := range info.Symbols {
		s := info.Symbols[i]
		inst := market.Instrument{Symbol: s.Symbol}
		if lot := s.LotSizeFilter(); lot != nil {
			inst.StepSize = parseFloat(lot.StepSize)
			inst.MinQty = parseFloat(lot.MinQuantity)
		}
		if pf := s.PriceFilter(); pf != nil {
			inst.TickSize = parseFloat(pf.TickSize)
		}
		filters[s.Symbol] = inst
	}
	v.mu.Lock()
	v.filters = filters
	v.filtersAt = v.now()
	v.mu.Unlock()

	inst, ok := filters[code]
	if !ok {
		return market.Instrument{}, fmt.Errorf("binance instrument %s not listed", code)
	}
	return inst, nil
}

// PlaceBracketOrder 先提交入场单；入场失败直接返回 error，不提交保护单。
// 止损/止盈为条件市价单，三条订单的 client id 共享同一 group id。
// 市价入场后仓位已存在，保护单用 reduce-only + 数量；限价入场时仓位尚未成交，
// 交易所会拒绝 reduce-only，改用 closePosition。
func (v *Venue) PlaceBracketOrder(ctx context.Context, req trader.BracketRequest) (trader.BracketResult, error) {
	var res trader.BracketResult
	code := symbolpkg.ToBinance(req.Symbol)
	inst, err := v.Instrument(ctx, code)
	if err != nil {
		return res, err
	}
	qty := risk.Format(req.Quantity, inst.StepSize)

	entry := v.client.NewCreateOrderService().
		Symbol(code).
		Side(sideType(req.Side)).
		Quantity(qty).
		NewClientOrderID(v.clientID(req.GroupID, "e"))
	if v.cfg.EntryOrderType == "limit" {
		entry = entry.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(risk.Format(req.Entry, inst.TickSize))
	} else {
		entry = entry.Type(futures.OrderTypeMarket)
	}
	entryResp, err := entry.Do(ctx)
	if err != nil {
		return res, fmt.Errorf("binance entry order %s: %w", code, err)
	}
	res.Entry = trader.LegResult{OrderID: strconv.FormatInt(entryResp.OrderID, 10)}

	legQty := qty
	if v.cfg.EntryOrderType == "limit" {
		legQty = ""
	}
	closeSide := sideType(req.Side.Opposite())
	res.Stop = v.protect(ctx, code, closeSide, futures.OrderTypeStopMarket, legQty,
		risk.Format(req.Stop, inst.TickSize), v.clientID(req.GroupID, "s"))
	res.Target = v.protect(ctx, code, closeSide, futures.OrderTypeTakeProfitMarket, legQty,
		risk.Format(req.Target, inst.TickSize), v.clientID(req.GroupID, "t"))
	return res, nil
}

// protect 提交一条保护单；qty 为空时以 closePosition 平掉该方向的全部仓位。
func (v *Venue) protect(ctx context.Context, code string, side futures.SideType, typ futures.OrderType, qty, stopPrice, clientID string) trader.LegResult {
	svc := v.client.NewCreateOrderService().
		Symbol(code).
		Side(side).
		Type(typ).
		StopPrice(stopPrice).
		WorkingType(futures.WorkingType(v.cfg.WorkingType)).
		NewClientOrderID(clientID)
	if qty == "" {
		svc = svc.ClosePosition(true)
	} else {
		svc = svc.Quantity(qty).ReduceOnly(true)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		logger.Warnf("binance %s leg %s rejected: %v", typ, clientID, err)
		return trader.LegResult{Err: fmt.Errorf("binance %s order %s: %w", typ, code, err)}
	}
	return trader.LegResult{OrderID: strconv.FormatInt(resp.OrderID, 10)}
}

// clientID 形如 sd-<group>-e，交易所限制 36 个字符。
func (v *Venue) clientID(group, leg string) string {
	id := v.cfg.TagPrefix + "-" + group + "-" + leg
	if len(id) > 36 {
		id = id[len(id)-36:]
	}
	return id
}

func sideType(s trader.Side) futures.SideType {
	if s == trader.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}
