package billing

// Pricer token 计价器
// 当前对所有提供商和模型使用统一的每千 token 费率
type Pricer struct {
	ratePer1K float64
}

// NewPricer 创建计价器
func NewPricer(ratePer1K float64) *Pricer {
	return &Pricer{ratePer1K: ratePer1K}
}

// Cost 按 token 数计算费用
// modelID 当前不参与计价，保留为按模型定价的扩展点
func (p *Pricer) Cost(tokens int, modelID string) float64 {
	_ = modelID
	return float64(tokens) / 1000 * p.ratePer1K
}
