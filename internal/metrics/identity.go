package metrics

import "strings"

const identitySep = "|"

// Identity 组合指标名和有序维度，例如 ServerTiming|Domain|dts|Type|total
func Identity(name string, dims ...Dimension) string {
	var b strings.Builder
	b.WriteString(clean(name))
	for _, d := range dims {
		b.WriteString(identitySep)
		b.WriteString(clean(d.Name))
		b.WriteString(identitySep)
		b.WriteString(clean(d.Value))
	}
	return b.String()
}

// ParseIdentity 把指标标识拆回指标名和维度，落单的维度名会被忽略
func ParseIdentity(id string) (string, []Dimension) {
	parts := strings.Split(id, identitySep)
	var dims []Dimension
	for i := 1; i+1 < len(parts); i += 2 {
		dims = append(dims, Dimension{Name: parts[i], Value: parts[i+1]})
	}
	return parts[0], dims
}

// ServerTimingIdentity Server-Timing 条目对应的指标标识
func ServerTimingIdentity(domain, entry string) string {
	return Identity("ServerTiming",
		Dimension{Name: "Domain", Value: domain},
		Dimension{Name: "Type", Value: entry},
	)
}

func clean(s string) string {
	return strings.ReplaceAll(s, identitySep, "_")
}
