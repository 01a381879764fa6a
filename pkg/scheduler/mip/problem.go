// Package mip 提供 0/1 装箱型整数规划求解
//
// 模型形式：
//
//	max  Σ obj[i]·x[i]
//	s.t. Σ_{i∈row} x[i] ≤ limit   (每一行)
//	     x[i] ∈ {0,1}
//
// 所有系数为 0/1，全零解总是可行。
package mip

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Row 约束行
type Row struct {
	Name  string
	Vars  []int
	Limit int
}

// Problem 整数规划问题
type Problem struct {
	Objective []float64
	Rows      []Row
}

// NewProblem 创建问题
func NewProblem(objective []float64) *Problem {
	return &Problem{Objective: objective}
}

// NumVars 返回变量个数
func (p *Problem) NumVars() int {
	return len(p.Objective)
}

// AddRow 添加约束行
func (p *Problem) AddRow(name string, vars []int, limit int) {
	p.Rows = append(p.Rows, Row{Name: name, Vars: vars, Limit: limit})
}

// Validate 检查问题是否合法
func (p *Problem) Validate() error {
	n := p.NumVars()
	for i, o := range p.Objective {
		if o < 0 {
			return fmt.Errorf("变量 %d 的目标系数为负: %f", i, o)
		}
	}
	for _, r := range p.Rows {
		if r.Limit < 0 {
			return fmt.Errorf("约束 %s 的上限为负", r.Name)
		}
		for _, v := range r.Vars {
			if v < 0 || v >= n {
				return fmt.Errorf("约束 %s 引用了不存在的变量 %d", r.Name, v)
			}
		}
	}
	return nil
}

// Feasible 检查一个 0/1 解是否满足所有约束
func (p *Problem) Feasible(x []bool) bool {
	for _, r := range p.Rows {
		count := 0
		for _, v := range r.Vars {
			if x[v] {
				count++
			}
		}
		if count > r.Limit {
			return false
		}
	}
	return true
}

// Value 计算一个解的目标值
func (p *Problem) Value(x []bool) float64 {
	var total float64
	for i, on := range x {
		if on {
			total += p.Objective[i]
		}
	}
	return total
}

// presolve 去掉不可能起作用的行和重复行
// 行内变量数不超过上限的行永远不会被违反
func (p *Problem) presolve() []Row {
	seen := make(map[string]int)
	out := make([]Row, 0, len(p.Rows))

	for _, r := range p.Rows {
		vars := uniqueSorted(r.Vars)
		if len(vars) <= r.Limit {
			continue
		}
		key := rowKey(vars)
		if idx, ok := seen[key]; ok {
			if r.Limit < out[idx].Limit {
				out[idx].Limit = r.Limit
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, Row{Name: r.Name, Vars: vars, Limit: r.Limit})
	}
	return out
}

func uniqueSorted(vars []int) []int {
	out := make([]int, len(vars))
	copy(out, vars)
	sort.Ints(out)
	w := 0
	for i, v := range out {
		if i > 0 && v == out[i-1] {
			continue
		}
		out[w] = v
		w++
	}
	return out[:w]
}

func rowKey(vars []int) string {
	var b strings.Builder
	for i, v := range vars {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

// Solution 求解结果
type Solution struct {
	Values    []bool
	Objective float64
	Optimal   bool // 是否证明了最优
	Nodes     int
	Duration  time.Duration
}

// Selected 返回取值为 1 的变量
func (s *Solution) Selected() []int {
	var out []int
	for i, on := range s.Values {
		if on {
			out = append(out, i)
		}
	}
	return out
}
