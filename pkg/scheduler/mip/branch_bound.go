package mip

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/paiban/classplan/pkg/logger"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	integralTol = 1e-6
	boundTol    = 1e-9
	simplexTol  = 1e-10
)

// Options 求解选项
type Options struct {
	MaxNodes int // 每个分量最多搜索的节点数，0 表示不限制
}

// Solver 分支定界求解器
// 每个节点用单纯形法求 LP 松弛作为上界
type Solver struct {
	opts   Options
	logger *logger.SchedulerLogger
}

// NewSolver 创建求解器
func NewSolver(opts Options) *Solver {
	return &Solver{opts: opts, logger: logger.NewSchedulerLogger("mip")}
}

// Solve 求解问题
// ctx 的截止时间即求解预算，超时后返回当前最好的可行解且 Optimal=false
func (s *Solver) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	n := p.NumVars()
	sol := &Solution{Values: make([]bool, n), Optimal: true}

	rows := p.presolve()
	components := splitComponents(p.Objective, rows)

	for _, comp := range components {
		if len(comp.vars) == 1 && len(comp.rows) == 0 {
			sol.Values[comp.vars[0]] = true
			continue
		}
		b := newSearch(ctx, comp, s.opts.MaxNodes)
		b.run()
		for local, on := range b.best {
			if on {
				sol.Values[comp.vars[local]] = true
			}
		}
		sol.Nodes += b.nodes
		if b.aborted {
			sol.Optimal = false
		}
	}

	sol.Objective = p.Value(sol.Values)
	sol.Duration = time.Since(start)

	s.logger.Logger().Debug().
		Int("variables", n).
		Int("rows", len(rows)).
		Int("components", len(components)).
		Int("nodes", sol.Nodes).
		Bool("optimal", sol.Optimal).
		Msg("整数规划求解结束")

	return sol, nil
}

// component 相互独立的子问题，变量与行都已换成局部下标
type component struct {
	vars []int // 局部下标 -> 全局下标
	obj  []float64
	rows []Row
}

// splitComponents 按共享约束行把变量划分为独立分量
// 目标系数为 0 的变量恒取 0，不参与求解
func splitComponents(objective []float64, rows []Row) []component {
	n := len(objective)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}

	live := func(v int) bool { return objective[v] > 0 }

	for _, r := range rows {
		first := -1
		for _, v := range r.Vars {
			if !live(v) {
				continue
			}
			if first < 0 {
				first = v
				continue
			}
			if a, b := find(first), find(v); a != b {
				parent[b] = a
			}
		}
	}

	byRoot := make(map[int]*component)
	var roots []int
	local := make([]int, n)
	for v := 0; v < n; v++ {
		if !live(v) {
			continue
		}
		root := find(v)
		c, ok := byRoot[root]
		if !ok {
			c = &component{}
			byRoot[root] = c
			roots = append(roots, root)
		}
		local[v] = len(c.vars)
		c.vars = append(c.vars, v)
		c.obj = append(c.obj, objective[v])
	}

	for _, r := range rows {
		var vars []int
		root := -1
		for _, v := range r.Vars {
			if !live(v) {
				continue
			}
			root = find(v)
			vars = append(vars, local[v])
		}
		if root < 0 || len(vars) <= r.Limit {
			continue
		}
		c := byRoot[root]
		c.rows = append(c.rows, Row{Name: r.Name, Vars: vars, Limit: r.Limit})
	}

	out := make([]component, 0, len(roots))
	for _, root := range roots {
		out = append(out, *byRoot[root])
	}
	return out
}

// search 单个分量的分支定界状态
type search struct {
	ctx      context.Context
	obj      []float64
	rows     []Row
	varRows  [][]int
	maxNodes int

	best    []bool
	bestVal float64
	nodes   int
	aborted bool
}

func newSearch(ctx context.Context, comp component, maxNodes int) *search {
	varRows := make([][]int, len(comp.obj))
	for ri, r := range comp.rows {
		for _, v := range r.Vars {
			varRows[v] = append(varRows[v], ri)
		}
	}
	return &search{
		ctx:      ctx,
		obj:      comp.obj,
		rows:     comp.rows,
		varRows:  varRows,
		maxNodes: maxNodes,
		best:     make([]bool, len(comp.obj)),
	}
}

func (b *search) run() {
	b.greedy()

	fixed := make([]int8, len(b.obj))
	for i := range fixed {
		fixed[i] = -1
	}
	b.branch(fixed, 0)
}

// greedy 按目标系数从大到小构造初始可行解
func (b *search) greedy() {
	order := make([]int, len(b.obj))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return b.obj[order[i]] > b.obj[order[j]]
	})

	used := make([]int, len(b.rows))
	for _, v := range order {
		fits := true
		for _, ri := range b.varRows[v] {
			if used[ri] >= b.rows[ri].Limit {
				fits = false
				break
			}
		}
		if !fits {
			continue
		}
		for _, ri := range b.varRows[v] {
			used[ri]++
		}
		b.best[v] = true
		b.bestVal += b.obj[v]
	}
}

// branch 深度优先搜索，fixed 中 -1 表示未定
func (b *search) branch(fixed []int8, fixedVal float64) {
	if b.aborted {
		return
	}
	b.nodes++
	if b.ctx.Err() != nil || (b.maxNodes > 0 && b.nodes > b.maxNodes) {
		b.aborted = true
		return
	}

	residual, ok := b.propagate(fixed)
	if !ok {
		return
	}

	var optimistic float64
	free := 0
	for v, f := range fixed {
		if f < 0 {
			optimistic += b.obj[v]
			free++
		}
	}
	if fixedVal+optimistic <= b.bestVal+boundTol {
		return
	}
	if free == 0 {
		b.offer(fixed, nil)
		return
	}

	bound, x := b.relax(fixed, residual)
	if fixedVal+bound <= b.bestVal+boundTol {
		return
	}

	pick := -1
	if x != nil {
		worst := 0.0
		for v, f := range fixed {
			if f >= 0 {
				continue
			}
			frac := math.Min(x[v], 1-x[v])
			if frac > integralTol && frac > worst {
				worst = frac
				pick = v
			}
		}
		if pick < 0 {
			b.offer(fixed, x)
			return
		}
	} else {
		for v, f := range fixed {
			if f < 0 && (pick < 0 || b.obj[v] > b.obj[pick]) {
				pick = v
			}
		}
	}

	one := cloneFixed(fixed)
	one[pick] = 1
	b.branch(one, fixedVal+b.obj[pick])

	zero := cloneFixed(fixed)
	zero[pick] = 0
	b.branch(zero, fixedVal)
}

// propagate 计算各行剩余容量，并把已满行中的未定变量定为 0
func (b *search) propagate(fixed []int8) ([]int, bool) {
	residual := make([]int, len(b.rows))
	for ri, r := range b.rows {
		residual[ri] = r.Limit
		for _, v := range r.Vars {
			if fixed[v] == 1 {
				residual[ri]--
			}
		}
		if residual[ri] < 0 {
			return nil, false
		}
	}
	for ri, r := range b.rows {
		if residual[ri] != 0 {
			continue
		}
		for _, v := range r.Vars {
			if fixed[v] < 0 {
				fixed[v] = 0
			}
		}
	}
	return residual, true
}

// offer 用整数解更新当前最优
func (b *search) offer(fixed []int8, x []float64) {
	cand := make([]bool, len(fixed))
	var val float64
	for v, f := range fixed {
		on := f == 1 || (f < 0 && x != nil && x[v] > 0.5)
		cand[v] = on
		if on {
			val += b.obj[v]
		}
	}
	if val <= b.bestVal+boundTol || !b.feasible(cand) {
		return
	}
	b.best = cand
	b.bestVal = val
}

func (b *search) feasible(x []bool) bool {
	for _, r := range b.rows {
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

// relax 求未定变量的 LP 松弛上界
// 标准形 min c·x, Ax = b, x ≥ 0：每行加一个松弛变量，松弛变量构成初始可行基
func (b *search) relax(fixed []int8, residual []int) (float64, []float64) {
	var freeVars []int
	col := make(map[int]int)
	for v, f := range fixed {
		if f < 0 {
			col[v] = len(freeVars)
			freeVars = append(freeVars, v)
		}
	}

	type lpRow struct {
		cols  []int
		limit float64
	}
	var lpRows []lpRow
	tightest := make([]int, len(freeVars))
	for i := range tightest {
		tightest[i] = math.MaxInt
	}
	for ri, r := range b.rows {
		var cols []int
		for _, v := range r.Vars {
			if c, ok := col[v]; ok {
				cols = append(cols, c)
			}
		}
		if len(cols) == 0 {
			continue
		}
		lpRows = append(lpRows, lpRow{cols: cols, limit: float64(residual[ri])})
		for _, c := range cols {
			if residual[ri] < tightest[c] {
				tightest[c] = residual[ri]
			}
		}
	}
	// x ≤ 1 没有被任何行隐含时显式加上
	for c, t := range tightest {
		if t > 1 {
			lpRows = append(lpRows, lpRow{cols: []int{c}, limit: 1})
		}
	}

	k := len(freeVars)
	m := len(lpRows)
	width := k + m
	data := make([]float64, m*width)
	rhs := make([]float64, m)
	basic := make([]int, m)
	for i, r := range lpRows {
		for _, c := range r.cols {
			data[i*width+c] = 1
		}
		data[i*width+k+i] = 1
		rhs[i] = r.limit
		basic[i] = k + i
	}
	cost := make([]float64, width)
	for c, v := range freeVars {
		cost[c] = -b.obj[v]
	}

	optF, optX, err := lp.Simplex(cost, mat.NewDense(m, width, data), rhs, simplexTol, basic)
	if err != nil {
		var sum float64
		for _, v := range freeVars {
			sum += b.obj[v]
		}
		return sum, nil
	}

	x := make([]float64, len(fixed))
	for c, v := range freeVars {
		x[v] = optX[c]
	}
	return -optF, x
}

func cloneFixed(fixed []int8) []int8 {
	out := make([]int8, len(fixed))
	copy(out, fixed)
	return out
}
