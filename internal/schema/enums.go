package schema

// Side describes trade direction.
type Side uint16

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

func (s Side) IsValid() bool {
	return s == SideBuy || s == SideSell
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseSide maps the wire representation to a Side.
func ParseSide(s string) Side {
	switch s {
	case "BUY":
		return SideBuy
	case "SELL":
		return SideSell
	default:
		return SideUnknown
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
	OrderTypeStop
	OrderTypeStopLimit
)

func (t OrderType) IsValid() bool {
	return t >= OrderTypeLimit && t <= OrderTypeStopLimit
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeStop:
		return "STOP"
	case OrderTypeStopLimit:
		return "STOP_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// ParseOrderType maps the wire representation to an OrderType.
func ParseOrderType(s string) OrderType {
	switch s {
	case "LIMIT":
		return OrderTypeLimit
	case "MARKET":
		return OrderTypeMarket
	case "STOP":
		return OrderTypeStop
	case "STOP_LIMIT":
		return OrderTypeStopLimit
	default:
		return OrderTypeUnknown
	}
}

// OrderStatus describes order lifecycle status.
type OrderStatus uint16

const (
	OrderStatusUnknown OrderStatus = iota
	OrderStatusNew
	OrderStatusPartial
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusRejected
)

func (s OrderStatus) IsValid() bool {
	return s >= OrderStatusNew && s <= OrderStatusRejected
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "NEW"
	case OrderStatusPartial:
		return "PARTIAL"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// ParseOrderStatus maps the wire representation to an OrderStatus.
func ParseOrderStatus(s string) OrderStatus {
	switch s {
	case "NEW":
		return OrderStatusNew
	case "PARTIAL":
		return OrderStatusPartial
	case "FILLED":
		return OrderStatusFilled
	case "CANCELLED":
		return OrderStatusCancelled
	case "REJECTED":
		return OrderStatusRejected
	default:
		return OrderStatusUnknown
	}
}

// TimeInForce describes order time-in-force.
type TimeInForce uint16

const (
	TimeInForceUnknown TimeInForce = iota
	TimeInForceGTC
	TimeInForceIOC
	TimeInForceFOK
	TimeInForceDay
)

func (t TimeInForce) IsValid() bool {
	return t >= TimeInForceGTC && t <= TimeInForceDay
}

func (t TimeInForce) String() string {
	switch t {
	case TimeInForceGTC:
		return "GTC"
	case TimeInForceIOC:
		return "IOC"
	case TimeInForceFOK:
		return "FOK"
	case TimeInForceDay:
		return "DAY"
	default:
		return "UNKNOWN"
	}
}

// ParseTimeInForce maps the wire representation to a TimeInForce.
func ParseTimeInForce(s string) TimeInForce {
	switch s {
	case "GTC":
		return TimeInForceGTC
	case "IOC":
		return TimeInForceIOC
	case "FOK":
		return TimeInForceFOK
	case "DAY":
		return TimeInForceDay
	default:
		return TimeInForceUnknown
	}
}

// Liquidity describes whether a fill added or removed liquidity.
type Liquidity uint16

const (
	LiquidityUnknown Liquidity = iota
	LiquidityMaker
	LiquidityTaker
)

func (l Liquidity) String() string {
	switch l {
	case LiquidityMaker:
		return "MAKER"
	case LiquidityTaker:
		return "TAKER"
	default:
		return "UNKNOWN"
	}
}

// ParseLiquidity maps the wire representation to a Liquidity.
func ParseLiquidity(s string) Liquidity {
	switch s {
	case "MAKER":
		return LiquidityMaker
	case "TAKER":
		return LiquidityTaker
	default:
		return LiquidityUnknown
	}
}

// Trend is the published market trend.
type Trend uint16

const (
	TrendFlat Trend = iota
	TrendUp
	TrendDown
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "UP"
	case TrendDown:
		return "DOWN"
	default:
		return "FLAT"
	}
}

// Decision is the published trading decision.
type Decision uint16

const (
	DecisionHold Decision = iota
	DecisionBuy
	DecisionSell
)

func (d Decision) String() string {
	switch d {
	case DecisionBuy:
		return "BUY"
	case DecisionSell:
		return "SELL"
	default:
		return "HOLD"
	}
}
