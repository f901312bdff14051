package deadletter

var (
	BuildListQuery = buildListQuery
	MongoFilter    = mongoFilter
)
