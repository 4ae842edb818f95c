package storage

const FileMode = fileMode
