package db

import (
	"context"
)

const insertPriceRecord = `-- name: InsertPriceRecord :execrows
insert or ignore into price_record (tracker_id, keyword, price, image_url, refreshed_at, generation)
values (?, ?, ?, ?, ?, ?)
`

type InsertPriceRecordParams struct {
	TrackerID   string
	Keyword     string
	Price       int64
	ImageUrl    string
	RefreshedAt int64
	Generation  int64
}

func (q *Queries) InsertPriceRecord(ctx context.Context, arg InsertPriceRecordParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, insertPriceRecord,
		arg.TrackerID,
		arg.Keyword,
		arg.Price,
		arg.ImageUrl,
		arg.RefreshedAt,
		arg.Generation,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listPriceRecords = `-- name: ListPriceRecords :many
select id, tracker_id, keyword, price, image_url, refreshed_at, generation from price_record
where tracker_id = ?
order by refreshed_at desc, id desc
limit ?
`

type ListPriceRecordsParams struct {
	TrackerID string
	Limit     int64
}

func (q *Queries) ListPriceRecords(ctx context.Context, arg ListPriceRecordsParams) ([]PriceRecord, error) {
	rows, err := q.db.QueryContext(ctx, listPriceRecords, arg.TrackerID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PriceRecord
	for rows.Next() {
		var i PriceRecord
		if err := rows.Scan(
			&i.ID,
			&i.TrackerID,
			&i.Keyword,
			&i.Price,
			&i.ImageUrl,
			&i.RefreshedAt,
			&i.Generation,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deletePriceRecordsBefore = `-- name: DeletePriceRecordsBefore :execrows
delete from price_record where refreshed_at < ?
`

func (q *Queries) DeletePriceRecordsBefore(ctx context.Context, before int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, deletePriceRecordsBefore, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
