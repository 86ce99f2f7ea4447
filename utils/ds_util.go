package utils

import (
	"github.com/emirpasic/gods/sets"
	"github.com/emirpasic/gods/sets/hashset"
)

// List2set 把id列表转成集合，线程簿记用
func List2set(list []uint64) sets.Set {
	set := hashset.New()
	for _, value := range list {
		set.Add(value)
	}
	return set
}

// Set2list 把集合转回id列表
func Set2list(set sets.Set) []uint64 {
	values := set.Values()
	list := make([]uint64, 0, len(values))
	for _, value := range values {
		if id, ok := value.(uint64); ok {
			list = append(list, id)
		}
	}
	return list
}
