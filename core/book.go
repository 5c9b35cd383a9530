package core

import "sort"

// Book 是书目中的一本书。ID 是唯一标识，对推荐核心而言不可变。
type Book struct {
	ID           int64    `yaml:"id" json:"id"`
	Title        string   `yaml:"title" json:"title"`
	AuthorID     int64    `yaml:"author_id" json:"author_id"`
	AuthorName   string   `yaml:"author_name" json:"author_name"`
	Description  string   `yaml:"description" json:"description"`
	Tags         []string `yaml:"tags" json:"tags"`
	ImageURL     string   `yaml:"image_url" json:"image_url"`
	RatingsCount int      `yaml:"ratings_count" json:"ratings_count"`
}

// Rating 是一条用户评分（1-5），记录后不可变。
type Rating struct {
	UserID string `yaml:"user_id" json:"user_id"`
	BookID int64  `yaml:"book_id" json:"book_id"`
	Value  int    `yaml:"value" json:"value"`
}

// RatingMatrix 是 userID -> bookID -> rating 的评分矩阵，按需从评分快照构建，不持久化。
type RatingMatrix map[string]map[int64]int

// BuildRatingMatrix 从评分快照构建评分矩阵。
// 同一用户对同一本书的重复评分以最后一条为准。
func BuildRatingMatrix(ratings []Rating) RatingMatrix {
	m := make(RatingMatrix)
	for _, r := range ratings {
		row, ok := m[r.UserID]
		if !ok {
			row = make(map[int64]int)
			m[r.UserID] = row
		}
		row[r.BookID] = r.Value
	}
	return m
}

// RatedBy 返回用户评过分的书籍集合。
func RatedBy(ratings []Rating, userID string) map[int64]struct{} {
	out := make(map[int64]struct{})
	if userID == "" {
		return out
	}
	for _, r := range ratings {
		if r.UserID == userID {
			out[r.BookID] = struct{}{}
		}
	}
	return out
}

// BookStats 是一本书在全部评分上的聚合。
type BookStats struct {
	Count   int
	Sum     int
	Average float64
}

// AggregateRatings 按书聚合评分数与均分。
func AggregateRatings(ratings []Rating) map[int64]BookStats {
	out := make(map[int64]BookStats)
	for _, r := range ratings {
		s := out[r.BookID]
		s.Count++
		s.Sum += r.Value
		out[r.BookID] = s
	}
	for id, s := range out {
		s.Average = float64(s.Sum) / float64(s.Count)
		out[id] = s
	}
	return out
}

// ScoredBook 是排序中间结果：书籍 ID、主分数、次级分数（平局打破/二次排序）。
type ScoredBook struct {
	BookID    int64
	Score     float64
	Secondary float64
}

// SortScoredBooks 按 Score 降序、Secondary 降序、BookID 升序排序，结果确定。
func SortScoredBooks(s []ScoredBook) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		if s[i].Secondary != s[j].Secondary {
			return s[i].Secondary > s[j].Secondary
		}
		return s[i].BookID < s[j].BookID
	})
}

// ScoreMapToSorted 把 bookID -> score 转为排序后的 ScoredBook 列表。
func ScoreMapToSorted(scores map[int64]float64) []ScoredBook {
	out := make([]ScoredBook, 0, len(scores))
	for id, s := range scores {
		out = append(out, ScoredBook{BookID: id, Score: s})
	}
	SortScoredBooks(out)
	return out
}

// BookIDs 提取 ID 列表。
func BookIDs(s []ScoredBook) []int64 {
	ids := make([]int64, len(s))
	for i, sb := range s {
		ids[i] = sb.BookID
	}
	return ids
}
