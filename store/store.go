// Package store 提供 core.Store / core.KeyValueStore 的实现（内存、Redis），
// 以及把 KV 存储适配为书目、评分、书籍向量与热门榜的适配器。
//
// 接口定义在 core 包：
//
//	var kv core.KeyValueStore = store.NewMemoryStore()
//	embeddings := store.NewStoreEmbeddingAdapter(kv, "book:embeddings")
package store
