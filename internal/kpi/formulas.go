package kpi

// Formula computes the metric set of one business type from raw aggregates.
// A metric maps to nil when its formula divides by zero; dependent metrics
// propagate the nil instead of raising.
type Formula interface {
	Calculate(in Inputs) map[string]*float64
	Metrics() []string
}

// ForType returns the formula family for a business type.
func ForType(bt BusinessType) (Formula, error) {
	switch bt {
	case SaaS:
		return saasFormula{}, nil
	case Ecommerce:
		return ecommerceFormula{}, nil
	case Agency:
		return agencyFormula{}, nil
	default:
		return nil, ErrUnknownBusinessType
	}
}

func ptr(v float64) *float64 { return &v }

func sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}

// ratio returns numerator/denominator, or nil when the denominator is zero.
func ratio(numerator, denominator float64) *float64 {
	if denominator == 0 {
		return nil
	}
	return ptr(numerator / denominator)
}

// saasFormula implements:
//
//	MRR         = sum(active_subscriptions)
//	Churn Rate  = lost_customers / starting_customers
//	ARPU        = MRR / starting_customers
//	LTV         = (ARPU * gross_margin) / churn_rate
//	Growth Rate = (current_mrr - previous_mrr) / previous_mrr
type saasFormula struct{}

func (saasFormula) Metrics() []string {
	return []string{"mrr", "churn_rate", "ltv", "growth_rate"}
}

func (saasFormula) Calculate(in Inputs) map[string]*float64 {
	mrr := sum(in.ActiveSubscriptions)
	churnRate := ratio(float64(in.LostCustomers), float64(in.StartingCustomers))
	arpu := ratio(mrr, float64(in.StartingCustomers))
	ltv := saasLTV(arpu, in.GrossMargin, churnRate)
	growthRate := ratio(mrr-in.PreviousMRR, in.PreviousMRR)

	return map[string]*float64{
		"mrr":         ptr(mrr),
		"churn_rate":  churnRate,
		"ltv":         ltv,
		"growth_rate": growthRate,
	}
}

// saasLTV propagates nil from ARPU or churn rate, and guards churn_rate == 0.
func saasLTV(arpu *float64, grossMargin float64, churnRate *float64) *float64 {
	if arpu == nil || churnRate == nil || *churnRate == 0 {
		return nil
	}
	return ptr((*arpu * grossMargin) / *churnRate)
}

// ecommerceFormula implements:
//
//	Revenue          = sum(orders)
//	AOV              = revenue / number_of_orders
//	Conversion Rate  = number_of_orders / total_visitors
//	CAC              = marketing_spend / new_customers
//	Purchase Freq    = number_of_orders / unique_customers
//	LTV              = AOV * purchase_frequency
//	Growth Rate      = (current_revenue - previous_revenue) / previous_revenue
type ecommerceFormula struct{}

func (ecommerceFormula) Metrics() []string {
	return []string{"revenue", "aov", "conversion_rate", "cac", "purchase_frequency", "ltv", "growth_rate"}
}

func (ecommerceFormula) Calculate(in Inputs) map[string]*float64 {
	revenue := sum(in.Orders)
	orders := float64(len(in.Orders))

	aov := ratio(revenue, orders)
	conversionRate := ratio(orders, float64(in.TotalVisitors))
	cac := ratio(in.MarketingSpend, float64(in.NewCustomers))
	purchaseFrequency := ratio(orders, float64(in.UniqueCustomers))
	ltv := ecommerceLTV(aov, purchaseFrequency)
	growthRate := ratio(revenue-in.PreviousRevenue, in.PreviousRevenue)

	return map[string]*float64{
		"revenue":            ptr(revenue),
		"aov":                aov,
		"conversion_rate":    conversionRate,
		"cac":                cac,
		"purchase_frequency": purchaseFrequency,
		"ltv":                ltv,
		"growth_rate":        growthRate,
	}
}

// ecommerceLTV propagates nil from either upstream division by zero.
func ecommerceLTV(aov, purchaseFrequency *float64) *float64 {
	if aov == nil || purchaseFrequency == nil {
		return nil
	}
	return ptr(*aov * *purchaseFrequency)
}

// agencyFormula implements:
//
//	Retainer Revenue     = sum(retainer_fees)
//	Project Revenue      = sum(project_values)
//	Total Revenue        = retainer_revenue + project_revenue
//	Client Churn         = lost_clients / starting_clients
//	Utilization Rate     = billable_hours / available_hours
//	Revenue Per Employee = total_revenue / total_employees
//	Average Retainer     = retainer_revenue / number_of_retainer_clients
//	Client LTV           = average_retainer * average_client_lifespan_months
type agencyFormula struct{}

func (agencyFormula) Metrics() []string {
	return []string{
		"retainer_revenue", "project_revenue", "total_revenue", "client_churn",
		"utilization_rate", "revenue_per_employee", "client_ltv",
	}
}

func (agencyFormula) Calculate(in Inputs) map[string]*float64 {
	retainerRevenue := sum(in.RetainerFees)
	projectRevenue := sum(in.ProjectValues)
	totalRevenue := retainerRevenue + projectRevenue

	clientChurn := ratio(float64(in.LostClients), float64(in.StartingClients))
	utilizationRate := ratio(in.BillableHours, in.AvailableHours)
	revenuePerEmployee := ratio(totalRevenue, float64(in.TotalEmployees))
	averageRetainer := ratio(retainerRevenue, float64(len(in.RetainerFees)))
	clientLTV := agencyClientLTV(averageRetainer, in.AvgClientLifespanMonths)

	return map[string]*float64{
		"retainer_revenue":     ptr(retainerRevenue),
		"project_revenue":      ptr(projectRevenue),
		"total_revenue":        ptr(totalRevenue),
		"client_churn":         clientChurn,
		"utilization_rate":     utilizationRate,
		"revenue_per_employee": revenuePerEmployee,
		"client_ltv":           clientLTV,
	}
}

// agencyClientLTV propagates nil from the average retainer division.
func agencyClientLTV(averageRetainer *float64, lifespanMonths float64) *float64 {
	if averageRetainer == nil {
		return nil
	}
	return ptr(*averageRetainer * lifespanMonths)
}
