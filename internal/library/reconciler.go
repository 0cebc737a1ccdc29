package library

import (
	"errors"
	"slices"
)

// ErrEmptyDesiredSet は集約結果が空のため差分計算を拒否したことを示す。
// 全アカウントの取得失敗などで空集合を適用すると、永続化済みの全ゲームが削除されてしまう。
var ErrEmptyDesiredSet = errors.New("desired set is empty")

// Plan は永続化済みの集合を目標の集合に合わせるための操作。
// 各スライスは昇順にソートされている。
type Plan struct {
	ToAdd     []int64
	ToRemove  []int64
	ToRefresh []int64
}

// Empty は適用すべき操作がないかを返す。
func (p Plan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToRemove) == 0 && len(p.ToRefresh) == 0
}

// Upserts はToAddとToRefreshを合わせたapp_idを昇順で返す。
func (p Plan) Upserts() []int64 {
	ids := make([]int64, 0, len(p.ToAdd)+len(p.ToRefresh))
	ids = append(ids, p.ToAdd...)
	ids = append(ids, p.ToRefresh...)
	slices.Sort(ids)
	return ids
}

// Diff は目標の集合desiredと現在の集合currentの差分を計算する。
//   - ToAdd = desired − current
//   - ToRemove = current − desired
//   - ToRefresh = desired ∩ current
//
// 入力中の重複は無視する。desiredが空の場合はcurrentに関わらずErrEmptyDesiredSetを返す。
func Diff(desired, current []int64) (Plan, error) {
	if len(desired) == 0 {
		return Plan{}, ErrEmptyDesiredSet
	}

	want := toSet(desired)
	have := toSet(current)

	plan := Plan{
		ToAdd:     []int64{},
		ToRemove:  []int64{},
		ToRefresh: []int64{},
	}
	for id := range want {
		if _, ok := have[id]; ok {
			plan.ToRefresh = append(plan.ToRefresh, id)
		} else {
			plan.ToAdd = append(plan.ToAdd, id)
		}
	}
	for id := range have {
		if _, ok := want[id]; !ok {
			plan.ToRemove = append(plan.ToRemove, id)
		}
	}

	slices.Sort(plan.ToAdd)
	slices.Sort(plan.ToRemove)
	slices.Sort(plan.ToRefresh)
	return plan, nil
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
