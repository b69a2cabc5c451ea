package db

type PriceRecord struct {
	ID          int64
	TrackerID   string
	Keyword     string
	Price       int64
	ImageUrl    string
	RefreshedAt int64
	Generation  int64
}
